package cosimio

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/raskyld/cosimio/pkg/info"
	"github.com/raskyld/cosimio/pkg/transport"
	"gopkg.in/yaml.v3"
)

const (
	maxEntryLength    = 1000
	disallowedInEntry = `.,:;></'|*!" `
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterValidation("cosimio_entry", func(fl validator.FieldLevel) bool {
			return checkEntry(fl.Field().String()) == nil
		})
	})
	return validate
}

// checkEntry rejects names that would break the file names and directories
// derived from them.
func checkEntry(entry string) error {
	switch {
	case entry == "":
		return errors.New("empty entry")
	case len(entry) > maxEntryLength:
		return fmt.Errorf("entry longer than %d characters", maxEntryLength)
	}
	if i := strings.IndexAny(entry, disallowedInEntry); i >= 0 {
		return fmt.Errorf("entry %q contains the disallowed character %q", entry, entry[i])
	}
	return nil
}

// CreateConnectionName derives the name both partners agree on from their
// own names.
func CreateConnectionName(name1, name2 string) string {
	if name1 < name2 {
		return name1 + "_" + name2
	}
	return name2 + "_" + name1
}

// connectSettings is the decoded form of the settings given to Connect.
type connectSettings struct {
	MyName           string  `validate:"required_without=ConnectionName,omitempty,cosimio_entry"`
	ConnectTo        string  `validate:"required_with=MyName,omitempty,cosimio_entry,nefield=MyName"`
	ConnectionName   string  `validate:"omitempty,cosimio_entry"`
	IsPrimary        *bool
	EchoLevel        int     `validate:"gte=0"`
	WorkingDirectory string  `validate:"omitempty,dir"`
	Format           string  `validate:"oneof=file socket local_socket quic memory pipe"`
	Address          string  `validate:"omitempty,ip"`
	SolverVersion    string  `validate:"omitempty,max=1000"`
	Compression      string  `validate:"oneof=none zstd"`
	Timeout          float64 `validate:"gte=0"`
}

func parseConnectSettings(settings *info.Info) (*connectSettings, error) {
	var (
		cs   connectSettings
		errs []error
	)
	str := func(key, def string) string {
		v, err := info.GetOr(settings, key, def)
		errs = append(errs, err)
		return v
	}

	cs.MyName = str("my_name", "")
	cs.ConnectTo = str("connect_to", "")
	cs.ConnectionName = str("connection_name", "")
	cs.WorkingDirectory = str("working_directory", "")
	cs.Format = str("communication_format", transport.FormatFile)
	cs.Address = str("ip", "")
	cs.SolverVersion = str("solver_version", "")
	legacyVersion := str("version", "")
	cs.Compression = str("compression", "none")

	var err error
	cs.EchoLevel, err = info.GetOr(settings, "echo_level", 0)
	errs = append(errs, err)

	if settings.Has("is_primary_connection") {
		primary, err := info.Get[bool](settings, "is_primary_connection")
		errs = append(errs, err)
		cs.IsPrimary = &primary
	}

	switch kind, _ := settings.KindOf("timeout"); kind {
	case info.KindInt:
		seconds, err := info.Get[int](settings, "timeout")
		errs = append(errs, err)
		cs.Timeout = float64(seconds)
	default:
		cs.Timeout, err = info.GetOr(settings, "timeout", 0.0)
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	// "version" is the older spelling of "solver_version".
	switch {
	case legacyVersion == "":
	case cs.SolverVersion == "":
		cs.SolverVersion = legacyVersion
	case cs.SolverVersion != legacyVersion:
		return nil, fmt.Errorf("%w: version %q contradicts solver_version %q", ErrInvalidSettings, legacyVersion, cs.SolverVersion)
	}
	if cs.ConnectionName == "" && cs.MyName == "" {
		return nil, fmt.Errorf("%w: either connection_name or my_name and connect_to are required", ErrInvalidSettings)
	}
	if err := validatorInstance().Struct(&cs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return &cs, nil
}

// name of the connection, explicit or derived from both partner names.
func (cs *connectSettings) name() string {
	if cs.ConnectionName != "" {
		return cs.ConnectionName
	}
	return CreateConnectionName(cs.MyName, cs.ConnectTo)
}

// role requested for the transport handshake.
func (cs *connectSettings) role() transport.Role {
	switch {
	case cs.IsPrimary != nil && *cs.IsPrimary:
		return transport.RolePrimary
	case cs.IsPrimary != nil:
		return transport.RoleSecondary
	case cs.MyName != "" && cs.ConnectTo != "":
		if cs.MyName < cs.ConnectTo {
			return transport.RolePrimary
		}
		return transport.RoleSecondary
	default:
		return transport.RoleAuto
	}
}

func (cs *connectSettings) timeout(def time.Duration) time.Duration {
	if cs.Timeout > 0 {
		return time.Duration(cs.Timeout * float64(time.Second))
	}
	return def
}

// checkIdentifier validates the identifier of an exchange.
func checkIdentifier(settings *info.Info) (string, error) {
	identifier, err := info.Get[string](settings, "identifier")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	if err := validatorInstance().Var(identifier, "cosimio_entry"); err != nil {
		return "", fmt.Errorf("%w: identifier: %w", ErrInvalidSettings, err)
	}
	if strings.HasPrefix(identifier, "__") {
		return "", fmt.Errorf("%w: %q", ErrReservedName, identifier)
	}
	return identifier, nil
}

// LoadSettingsFile reads a YAML mapping into an Info, keeping the key
// order of the document.
func LoadSettingsFile(path string) (*info.Info, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	settings := info.New()
	if err := yaml.Unmarshal(raw, settings); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidSettings, path, err)
	}
	return settings, nil
}

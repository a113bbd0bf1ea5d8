package prefork

import (
	"github.com/fieldline/prefork/internal/config"
	"github.com/fieldline/prefork/internal/supervisor"
)

// ConfigError reports invalid or malformed configuration. Fatal before the
// listening socket is bound.
type ConfigError = config.ConfigError

// BindError reports that the listening socket could not be bound. Fatal,
// aborts startup.
type BindError = supervisor.BindError

// ErrBootLoop is returned when adapter initialization keeps failing across
// replacement workers within the configured window.
var ErrBootLoop = supervisor.ErrBootLoop

package bootstrap

import (
	"github.com/postersafari/postr-engine/config"
)

// Config is the constraint for application configuration types. Structs
// embedding config.ServiceConfig get GetServiceConfig through promotion and
// add their own ApplyDefaults and Validate.
type Config interface {
	GetServiceConfig() *config.ServiceConfig
	ApplyDefaults()
	Validate() error
}

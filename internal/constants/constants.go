package constants

import "time"

const (
	ServiceName = "config-service"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultMongoDBName = "riskcfg"
)

const (
	ShutdownTimeout = 5 * time.Second
	StartupTimeout  = 30 * time.Second
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

const (
	MaxVersionCodeLen = 64
	MaxVersionDescLen = 512
	MaxEventNoLen     = 64
	MaxReasonLen      = 1024
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRoles = "X-User-Roles"
	RoleAdmin       = "admin"
)

const (
	EventSourceName = "config-service"
)

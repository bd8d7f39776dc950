package models

import "time"

// ModuleType classifies a module for the purposes of default configuration
// (spec.md 6, "Module type defaults").
type ModuleType string

const (
	ModuleTypeStandard    ModuleType = "standard"
	ModuleTypeSpecialised ModuleType = "specialised"
	ModuleTypeExternal    ModuleType = "external"
)

// ModuleFeatures toggles optional per-module behaviours.
type ModuleFeatures map[string]bool

// ModuleIndexConfig lists the metadata fields a module wants the adapter to
// treat specially (spec.md 3.3).
type ModuleIndexConfig struct {
	SearchableFields []string
	RequiredFields   []string
	IndexedFields    []string
}

// ModuleConfig is the per-module configuration record (spec.md 3.3).
type ModuleConfig struct {
	ID                string
	Name              string
	Description       string
	TableName         string
	MaxMemorySize     int
	RetentionDays     int // -1 = never
	SearchLimit       int
	EnableVersioning  bool
	EnableEncryption  bool
	Features          ModuleFeatures
	Metadata          ModuleIndexConfig
}

// ModuleTypeDefaults returns the default configuration values stamped on a
// module the first time it is registered, per spec.md 6.
func ModuleTypeDefaults(t ModuleType) ModuleConfig {
	switch t {
	case ModuleTypeSpecialised:
		return ModuleConfig{
			MaxMemorySize:    5000,
			RetentionDays:    180,
			SearchLimit:      30,
			EnableVersioning: true,
			EnableEncryption: false,
		}
	case ModuleTypeExternal:
		return ModuleConfig{
			MaxMemorySize:    1000,
			RetentionDays:    90,
			SearchLimit:      20,
			EnableVersioning: false,
			EnableEncryption: true,
		}
	default: // standard
		return ModuleConfig{
			MaxMemorySize:    10000,
			RetentionDays:    365,
			SearchLimit:      50,
			EnableVersioning: false,
			EnableEncryption: false,
		}
	}
}

// HealthStatus is the tri-state health classification of spec.md 4.11.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// ModuleHealthMetrics are the sampled metrics backing a health
// classification (spec.md 3.1 "Module health").
type ModuleHealthMetrics struct {
	AverageResponseTimeMs float64
	ErrorRate             float64
	TotalMemories         int64
}

// ModuleHealth is the current health snapshot for one module.
type ModuleHealth struct {
	LastCheck time.Time
	Status    HealthStatus
	Issues    []string
	Metrics   ModuleHealthMetrics
}

// ModuleDescriptor is the registry's record of a module (spec.md 3.1).
type ModuleDescriptor struct {
	ID            string
	Name          string
	Description   string
	Type          ModuleType
	Configuration ModuleConfig
	Requires      []string
	Optional      []string
	IsActive      bool
}

// ModuleStats is returned by Module.GetStats.
type ModuleStats struct {
	TotalMemories int64
	TotalUsers    int64
	LastWrite     time.Time
}

// ModuleLifecycleState models the state machine of spec.md 4.12.
type ModuleLifecycleState string

const (
	StateUnloaded           ModuleLifecycleState = "unloaded"
	StateInitialising       ModuleLifecycleState = "initialising"
	StateActive             ModuleLifecycleState = "active"
	StateActiveDegraded     ModuleLifecycleState = "active_degraded"
	StateActiveUnhealthy    ModuleLifecycleState = "active_unhealthy"
	StateShuttingDown       ModuleLifecycleState = "shutting_down"
	StateFailed             ModuleLifecycleState = "failed"
)

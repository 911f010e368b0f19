package common

const (
	ComponentEngine      = "engine"
	ComponentPlanner     = "range-planner"
	ComponentTransformer = "transformer"
	ComponentLoader      = "loader"
	ComponentWatermark   = "watermark-store"
	ComponentReorg       = "reorg-manager"
	ComponentNotifier    = "notifier"
	ComponentMaintenance = "maintenance"
	ComponentAPI         = "api"
)

var AllComponents = map[string]struct{}{
	ComponentEngine:      {},
	ComponentPlanner:     {},
	ComponentTransformer: {},
	ComponentLoader:      {},
	ComponentWatermark:   {},
	ComponentReorg:       {},
	ComponentNotifier:    {},
	ComponentMaintenance: {},
	ComponentAPI:         {},
}

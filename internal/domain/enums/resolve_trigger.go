package enums

type ResolveTrigger string

const (
	ResolveTriggerScheduled  ResolveTrigger = "scheduled"
	ResolveTriggerForceClear ResolveTrigger = "force_clear"
)

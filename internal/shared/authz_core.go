package shared

// Period close capabilities checked by the close service.
const (
	PermPeriodCloseView        = "period-close.view"
	PermPeriodCloseStart       = "period-close.start"
	PermPeriodCloseValidate    = "period-close.validate"
	PermPeriodCloseLock        = "period-close.lock"
	PermPeriodCloseComplete    = "period-close.complete"
	PermPeriodCloseReopen      = "period-close.reopen"
	PermPeriodCloseAdjust      = "period-close.adjust"
	PermPeriodCloseTasksUpdate = "period-close.tasks.update"
	PermPeriodCloseTemplates   = "period-close.templates.manage"
)

// Platform permissions.
const (
	PermPermissionsView = "permissions.view"
)

// PeriodCloseScopes lists every period close capability.
func PeriodCloseScopes() []string {
	return []string{
		PermPeriodCloseView,
		PermPeriodCloseStart,
		PermPeriodCloseValidate,
		PermPeriodCloseLock,
		PermPeriodCloseComplete,
		PermPeriodCloseReopen,
		PermPeriodCloseAdjust,
		PermPeriodCloseTasksUpdate,
		PermPeriodCloseTemplates,
	}
}

// CoreScopes lists all permissions known to the service.
func CoreScopes() []string {
	return append(PeriodCloseScopes(), PermPermissionsView)
}

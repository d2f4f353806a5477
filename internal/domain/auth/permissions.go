package auth

const (
	RoleEmployee       = "employee"
	RoleManager        = "manager"
	RoleHR             = "hr"
	RolePayrollOfficer = "payroll_officer"
	RoleFinance        = "finance"
	RoleAdmin          = "admin"
)

const (
	PermLeaveRead         = "leave.read"
	PermLeaveWrite        = "leave.write"
	PermLeaveApprove      = "leave.approve"
	PermLedgerRead        = "ledger.read"
	PermLedgerAdjust      = "ledger.adjust"
	PermLedgerOverride    = "ledger.override"
	PermEntitlementRead   = "entitlement.read"
	PermEntitlementManage = "entitlement.manage"
	PermJobsRun           = "jobs.run"
	PermJobsRead          = "jobs.read"
	PermPayrollRead       = "payroll.read"
	PermPayrollRun        = "payroll.run"
	PermPayrollApprove    = "payroll.approve"
	PermPayrollFinalize   = "payroll.finalize"
	PermPayrollConfig     = "payroll.config"
	PermWorkflowRead      = "workflow.read"
	PermWorkflowManage    = "workflow.manage"
	PermAuditRead         = "audit.read"
	PermReportsTeam       = "reports.team"
	PermReportsOrg        = "reports.org"
)

var RolePermissions = map[string][]string{
	RoleEmployee: {
		PermLeaveRead,
		PermLeaveWrite,
		PermLedgerRead,
		PermWorkflowRead,
	},
	RoleManager: {
		PermLeaveRead,
		PermLeaveWrite,
		PermLeaveApprove,
		PermLedgerRead,
		PermWorkflowRead,
		PermPayrollRead,
		PermPayrollApprove,
		PermReportsTeam,
	},
	RoleHR: {
		PermLeaveRead,
		PermLeaveWrite,
		PermLeaveApprove,
		PermLedgerRead,
		PermLedgerAdjust,
		PermLedgerOverride,
		PermEntitlementRead,
		PermEntitlementManage,
		PermJobsRun,
		PermJobsRead,
		PermPayrollRead,
		PermPayrollApprove,
		PermWorkflowRead,
		PermWorkflowManage,
		PermAuditRead,
		PermReportsTeam,
		PermReportsOrg,
	},
	RolePayrollOfficer: {
		PermLedgerRead,
		PermPayrollRead,
		PermPayrollRun,
		PermPayrollConfig,
		PermJobsRead,
		PermWorkflowRead,
	},
	RoleFinance: {
		PermPayrollRead,
		PermPayrollApprove,
		PermPayrollFinalize,
		PermWorkflowRead,
		PermAuditRead,
		PermReportsTeam,
		PermReportsOrg,
	},
}

// RoleInheritance lists roles that receive every permission of another role.
var RoleInheritance = map[string][]string{
	RoleAdmin: {RoleHR, RolePayrollOfficer, RoleFinance},
}

type UserContext struct {
	UserID     string
	EmployeeID string
	Role       string
}

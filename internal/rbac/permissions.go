// Package rbac maps roles to permissions and guards HTTP routes with them.
package rbac

import (
	"sort"

	"github.com/atelier-b2b/atelier/internal/shared"
)

// Permission strings.
const (
	PermRequestsOwn       = "requests.own"
	PermRequestsView      = "requests.view"
	PermRequestsValidate  = "requests.validate"
	PermRequestsAssign    = "requests.assign"
	PermQuotationsManage  = "quotations.manage"
	PermQuotationsRespond = "quotations.respond"
	PermNegotiationsTake  = "negotiations.participate"
	PermOrdersPay         = "orders.pay"
	PermOrdersManage      = "orders.manage"
	PermOrdersFinalCheck  = "orders.final_check"
	PermOrdersFulfillment = "orders.fulfillment"
	PermCommissionsView   = "commissions.view"
	PermCommissionsSettle = "commissions.settle"
	PermSweepRun          = "sweep.run"
)

var rolePermissions = map[shared.Role][]string{
	shared.RoleBuyer: {
		PermRequestsOwn, PermQuotationsRespond, PermNegotiationsTake, PermOrdersPay,
	},
	shared.RoleSales: {
		PermRequestsView, PermQuotationsManage, PermNegotiationsTake, PermOrdersManage,
		PermCommissionsView,
	},
	shared.RoleOperations: {
		PermRequestsView, PermRequestsValidate, PermRequestsAssign, PermQuotationsManage,
		PermNegotiationsTake, PermOrdersManage, PermOrdersFinalCheck, PermOrdersFulfillment,
		PermCommissionsView,
	},
	shared.RoleAdmin: {
		PermRequestsView, PermRequestsValidate, PermRequestsAssign, PermQuotationsManage,
		PermNegotiationsTake, PermOrdersManage, PermOrdersFinalCheck, PermOrdersFulfillment,
		PermCommissionsView, PermCommissionsSettle, PermSweepRun,
	},
}

// EffectivePermissions returns the sorted permission list for role.
func EffectivePermissions(role shared.Role) []string {
	perms := append([]string(nil), rolePermissions[role]...)
	sort.Strings(perms)
	return perms
}

package authz

const (
	RoleTenantAdmin = "tenant-admin"
	RoleOperator    = "operator"
	RoleAnonymous   = "anonymous"
)

const (
	ActionRead  = "read"
	ActionWrite = "write"
)

const ObjectRules = "rules.rules"

package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAdmin      = "admin"    // contractor admin: manages users and CRM connections
	RoleOperator   = "operator" // runs the power dialer and call lists
	RoleViewer     = "viewer"   // read-only access to projects and journals
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

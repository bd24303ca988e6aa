package rbac

// Default policy. Graders hold an administrative role over the owning club
// or tournament; club scoping is checked at the handler against the token's
// club claim.
var RolePermissions = map[string][]string{
	"student": {
		"test:view",
		"attempt:create",
		"attempt:save",
		"attempt:submit",
		"attempt:view-own",
		"results:view-own",
	},
	"grader": {
		"test:view",
		"test:view-key",
		"attempt:view-all",
		"attempt:grade",
	},
	"admin": {
		"*", // everything
	},
}

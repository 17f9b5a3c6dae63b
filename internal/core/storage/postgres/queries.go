package postgres

// SQL queries for credential resolution. All lookups are read-only.

const (
	// queryTenantByToken resolves a project API token to its team.
	queryTenantByToken = `
		SELECT id, api_token, name, anonymize_ips, plugins_opt_in
		FROM teams
		WHERE api_token = $1
	`

	// queryPrincipalByPersonalKey resolves a personal API key to its owner.
	// Keys belonging to deactivated users never match.
	queryPrincipalByPersonalKey = `
		SELECT u.id, u.email
		FROM personal_api_keys k
		JOIN users u ON u.id = k.user_id
		WHERE k.value = $1
		  AND u.is_active
	`

	// queryTenantsForPrincipal lists every team a user is a member of.
	queryTenantsForPrincipal = `
		SELECT t.id, t.api_token, t.name, t.anonymize_ips, t.plugins_opt_in
		FROM teams t
		JOIN team_memberships m ON m.team_id = t.id
		WHERE m.user_id = $1
		ORDER BY t.id ASC
	`

	// queryTouchPersonalKey records key usage; failures are logged, never surfaced.
	queryTouchPersonalKey = `
		UPDATE personal_api_keys
		SET last_used_at = NOW()
		WHERE value = $1
	`
)

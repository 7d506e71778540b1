package repository

// Schema definitions for the Condor database.
// Compatible with both SQLite and PostgreSQL. Monetary columns are TEXT and
// travel as decimal strings, never floats.

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    email TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    full_name TEXT,
    role TEXT NOT NULL DEFAULT 'user',
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (tenant_id, email)
);

CREATE INDEX IF NOT EXISTS idx_users_tenant ON users(tenant_id);
`

const schemaFiscalYears = `
CREATE TABLE IF NOT EXISTS fiscal_years (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    year INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    uvt_value TEXT NOT NULL,
    notes TEXT,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (tenant_id, year)
);

CREATE INDEX IF NOT EXISTS idx_fiscal_years_tenant ON fiscal_years(tenant_id);
`

const schemaThresholds = `
CREATE TABLE IF NOT EXISTS thresholds (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    fiscal_year_id TEXT NOT NULL,
    code TEXT NOT NULL,
    label TEXT NOT NULL,
    value_uvt TEXT,
    value_cop TEXT,
    description TEXT,
    legal_reference TEXT,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (tenant_id, fiscal_year_id, code)
);

CREATE INDEX IF NOT EXISTS idx_thresholds_year ON thresholds(tenant_id, fiscal_year_id);
`

const schemaObligationTypes = `
CREATE TABLE IF NOT EXISTS obligation_types (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    code TEXT NOT NULL,
    name TEXT NOT NULL,
    category TEXT NOT NULL,
    description TEXT,
    responsible_entity TEXT,
    legal_base TEXT,
    is_active INTEGER NOT NULL DEFAULT 1,
    display_order INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (tenant_id, code)
);

CREATE INDEX IF NOT EXISTS idx_obligation_types_tenant ON obligation_types(tenant_id, is_active);
`

const schemaObligationPeriodicities = `
CREATE TABLE IF NOT EXISTS obligation_periodicities (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    obligation_type_id TEXT NOT NULL,
    fiscal_year_id TEXT NOT NULL,
    frequency TEXT NOT NULL,
    description TEXT,
    nit_schedule TEXT,
    UNIQUE (tenant_id, obligation_type_id, fiscal_year_id)
);

CREATE INDEX IF NOT EXISTS idx_periodicities_year ON obligation_periodicities(tenant_id, fiscal_year_id);
`

const schemaRuleSets = `
CREATE TABLE IF NOT EXISTS rule_sets (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    fiscal_year_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    changelog TEXT,
    published_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (tenant_id, fiscal_year_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_sets_year ON rule_sets(tenant_id, fiscal_year_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_rule_sets_single_active
    ON rule_sets(tenant_id, fiscal_year_id) WHERE status = 'active';
`

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    rule_set_id TEXT NOT NULL,
    obligation_type_id TEXT NOT NULL,
    code TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    logic_operator TEXT NOT NULL DEFAULT 'AND',
    priority INTEGER NOT NULL DEFAULT 1,
    result_if_true TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    conditions TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_set ON rules(rule_set_id, obligation_type_id, priority);
`

const schemaTaxProfiles = `
CREATE TABLE IF NOT EXISTS tax_profiles (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    fiscal_year_id TEXT NOT NULL,
    persona_type TEXT NOT NULL DEFAULT 'natural',
    regime TEXT,
    is_iva_responsable INTEGER NOT NULL DEFAULT 0,
    ingresos_brutos_cop TEXT NOT NULL,
    patrimonio_bruto_cop TEXT,
    consignaciones_cop TEXT,
    compras_consumos_cop TEXT,
    has_employees INTEGER NOT NULL DEFAULT 0,
    employee_count INTEGER NOT NULL DEFAULT 0,
    economic_activity_ciiu TEXT,
    economic_activities TEXT,
    city TEXT,
    department TEXT,
    has_rut INTEGER NOT NULL DEFAULT 0,
    has_comercio_registration INTEGER NOT NULL DEFAULT 0,
    nit_last_digit INTEGER,
    additional_data TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    UNIQUE (tenant_id, user_id, fiscal_year_id)
);

CREATE INDEX IF NOT EXISTS idx_tax_profiles_user ON tax_profiles(tenant_id, user_id);
`

const schemaEvaluations = `
CREATE TABLE IF NOT EXISTS evaluations (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    tax_profile_id TEXT NOT NULL,
    rule_set_id TEXT NOT NULL,
    fiscal_year_id TEXT NOT NULL,
    status TEXT NOT NULL,
    evaluated_at TIMESTAMP NOT NULL,
    profile_snapshot TEXT NOT NULL,
    results TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluations_user ON evaluations(tenant_id, user_id, evaluated_at);
CREATE INDEX IF NOT EXISTS idx_evaluations_profile ON evaluations(tenant_id, tax_profile_id);
`

const schemaCalendarEntries = `
CREATE TABLE IF NOT EXISTS calendar_entries (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    evaluation_id TEXT NOT NULL,
    obligation_type_id TEXT NOT NULL,
    obligation_code TEXT NOT NULL,
    obligation_name TEXT NOT NULL,
    fiscal_year_id TEXT NOT NULL,
    periodicity TEXT,
    due_date TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_calendar_user ON calendar_entries(tenant_id, user_id, fiscal_year_id);
`

const schemaDisclaimerVersions = `
CREATE TABLE IF NOT EXISTS disclaimer_versions (
    id TEXT PRIMARY KEY,
    version INTEGER NOT NULL UNIQUE,
    text TEXT NOT NULL,
    is_current INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);
`

const schemaDisclaimerAcceptances = `
CREATE TABLE IF NOT EXISTS disclaimer_acceptances (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    accepted_at TIMESTAMP NOT NULL,
    UNIQUE (tenant_id, user_id, version)
);
`

const schemaAuditLog = `
CREATE TABLE IF NOT EXISTS audit_log (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    actor_id TEXT NOT NULL,
    action TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    detail TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_tenant ON audit_log(tenant_id, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaUsers,
		schemaFiscalYears,
		schemaThresholds,
		schemaObligationTypes,
		schemaObligationPeriodicities,
		schemaRuleSets,
		schemaRules,
		schemaTaxProfiles,
		schemaEvaluations,
		schemaCalendarEntries,
		schemaDisclaimerVersions,
		schemaDisclaimerAcceptances,
		schemaAuditLog,
	}
}

package sqlassets

import _ "embed"

//go:embed schema/registry/tenants.sql
var TenantsSQL string

//go:embed schema/registry/tenant_databases.sql
var TenantDatabasesSQL string

//go:embed schema/registry/client_certificates.sql
var ClientCertificatesSQL string

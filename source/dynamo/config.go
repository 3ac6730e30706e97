package dynamo

// Config holds configuration for the Source.
type Config struct {
	// Tables maps type names to table names. Types not listed use
	// TablePrefix + type name.
	Tables map[string]string

	// TablePrefix is prepended to unmapped type names.
	// Default: ""
	TablePrefix string

	// IDAttribute is the partition key attribute of every table.
	// Default: "id"
	IDAttribute string

	// Types restricts Bind to the listed type names. Empty allows any type.
	Types []string
}

// DefaultConfig returns a config that stores each type in a table of the
// same name keyed by "id".
func DefaultConfig() Config {
	return Config{
		Tables:      map[string]string{},
		IDAttribute: "id",
	}
}

// validate ensures config values are usable.
func (c *Config) validate() {
	if c.IDAttribute == "" {
		c.IDAttribute = "id"
	}
	if c.Tables == nil {
		c.Tables = map[string]string{}
	}
}

// table returns the table name for typeName.
func (c *Config) table(typeName string) string {
	if t, ok := c.Tables[typeName]; ok && t != "" {
		return t
	}
	return c.TablePrefix + typeName
}

package nl2sql

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed schema/ecommerce.yaml
var defaultSchemaYAML []byte

type Schema struct {
	Dialect    string        `yaml:"dialect"`
	Tables     []SchemaTable `yaml:"tables"`
	Guidelines []string      `yaml:"guidelines"`
}

type SchemaTable struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Columns     []SchemaColumn `yaml:"columns"`
}

type SchemaColumn struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

func DefaultSchema() Schema {
	schema, err := ParseSchema(defaultSchemaYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded schema is invalid: %v", err))
	}
	return schema
}

// LoadSchema reads a schema descriptor from path, or returns the embedded
// ecommerce schema when path is empty.
func LoadSchema(path string) (Schema, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultSchema(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("read schema file: %w", err)
	}
	return ParseSchema(raw)
}

func ParseSchema(raw []byte) (Schema, error) {
	var schema Schema
	if err := yaml.Unmarshal(raw, &schema); err != nil {
		return Schema{}, fmt.Errorf("decode schema: %w", err)
	}
	if len(schema.Tables) == 0 {
		return Schema{}, fmt.Errorf("schema must list at least one table")
	}
	for _, table := range schema.Tables {
		if strings.TrimSpace(table.Name) == "" {
			return Schema{}, fmt.Errorf("schema table name is required")
		}
		if len(table.Columns) == 0 {
			return Schema{}, fmt.Errorf("schema table %q has no columns", table.Name)
		}
	}
	if schema.Dialect == "" {
		schema.Dialect = "DuckDB"
	}
	return schema, nil
}

// Prompt renders the system and user messages sent to every provider.
func (s Schema) Prompt(req Request) (string, string) {
	system := fmt.Sprintf("You are a SQL expert. Convert natural language questions into a single %s SQL query. "+
		"Return ONLY the SQL query. No markdown, no explanation.", s.Dialect)

	var b strings.Builder
	b.WriteString("Database schema:\n")
	for _, table := range s.Tables {
		columns := make([]string, 0, len(table.Columns))
		for _, column := range table.Columns {
			columns = append(columns, column.Name+" "+column.Type)
		}
		fmt.Fprintf(&b, "- %s(%s)", table.Name, strings.Join(columns, ", "))
		if table.Description != "" {
			fmt.Fprintf(&b, ": %s", table.Description)
		}
		b.WriteString("\n")
	}
	if len(req.Tables) > 0 {
		b.WriteString("\nLive tables and sample rows:\n")
		for _, table := range req.Tables {
			fmt.Fprintf(&b, "- %s(%s)\n", table.TableName, strings.Join(table.Columns, ", "))
			for _, row := range table.SampleRows {
				fmt.Fprintf(&b, "    %v\n", row)
			}
		}
	}
	if len(s.Guidelines) > 0 {
		b.WriteString("\nGuidelines:\n")
		for _, guideline := range s.Guidelines {
			fmt.Fprintf(&b, "- %s\n", guideline)
		}
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n\nSQL Query:", strings.TrimSpace(req.Question))
	return system, b.String()
}

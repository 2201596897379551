package model

import (
	"fmt"
	"os"
	"strings"

	"sigs.k8s.io/yaml"
)

// Definition structs mirror the YAML model file. sigs.k8s.io/yaml converts
// YAML to JSON before unmarshalling, so json tags apply.

type applicationDef struct {
	Name      string        `json:"name"`
	Entities  []entityDef   `json:"entities"`
	Relations []relationDef `json:"relations"`
}

type entityDef struct {
	Name       string         `json:"name"`
	Table      string         `json:"table"`
	PrimaryKey string         `json:"primaryKey"`
	Attributes []attributeDef `json:"attributes"`
	Filters    []filterDef    `json:"filters"`
	Sortable   []string       `json:"sortable"`
}

type attributeDef struct {
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	Required      bool           `json:"required"`
	Unique        bool           `json:"unique"`
	AllowedValues []string       `json:"allowedValues"`
	Composite     []attributeDef `json:"composite"`
	Content       bool           `json:"content"`
	User          string         `json:"user"`
}

type filterDef struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Prefix bool   `json:"prefix"`
}

type relationDef struct {
	Kind             string      `json:"kind"`
	Source           endpointDef `json:"source"`
	Target           endpointDef `json:"target"`
	ForeignKeyColumn string      `json:"foreignKeyColumn"`
	JoinTable        *joinDef    `json:"joinTable"`
}

type endpointDef struct {
	Entity   string `json:"entity"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Required bool   `json:"required"`
}

type joinDef struct {
	Name         string `json:"name"`
	SourceColumn string `json:"sourceColumn"`
	TargetColumn string `json:"targetColumn"`
}

// LoadApplication parses a YAML application definition and validates it.
func LoadApplication(data []byte) (*Application, error) {
	var def applicationDef
	if err := yaml.UnmarshalStrict(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	app := &Application{Name: def.Name}
	for _, ed := range def.Entities {
		e := Entity{
			Name:       ed.Name,
			Table:      ed.Table,
			PrimaryKey: ed.PrimaryKey,
			Sortable:   ed.Sortable,
		}
		for _, ad := range ed.Attributes {
			e.Attributes = append(e.Attributes, buildAttribute(ad))
		}
		for _, fd := range ed.Filters {
			kind := Exact
			if fd.Prefix {
				kind = Prefix
			}
			e.Filters = append(e.Filters, SearchFilter{
				Name: fd.Name,
				Path: PropertyPath(strings.Split(fd.Path, ".")),
				Kind: kind,
			})
		}
		app.Entities = append(app.Entities, e)
	}
	for _, rd := range def.Relations {
		r := Relation{
			Kind:             RelationKind(rd.Kind),
			Source:           Endpoint(rd.Source),
			Target:           Endpoint(rd.Target),
			ForeignKeyColumn: rd.ForeignKeyColumn,
		}
		if rd.JoinTable != nil {
			r.Join = &JoinTable{
				Name:         rd.JoinTable.Name,
				SourceColumn: rd.JoinTable.SourceColumn,
				TargetColumn: rd.JoinTable.TargetColumn,
			}
		}
		app.Relations = append(app.Relations, r)
	}
	if err := app.Validate(); err != nil {
		return nil, err
	}
	return app, nil
}

// LoadApplicationFile reads and parses a YAML application definition file.
func LoadApplicationFile(path string) (*Application, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("model: reading %s: %w", path, err)
	}
	return LoadApplication(data)
}

func buildAttribute(ad attributeDef) Attribute {
	switch {
	case len(ad.Composite) > 0:
		a := Attribute{Kind: KindComposite, Name: ad.Name}
		for _, sub := range ad.Composite {
			a.Attributes = append(a.Attributes, buildAttribute(sub))
		}
		return a
	case ad.Content:
		return Attribute{Kind: KindContent, Name: ad.Name}
	case ad.User != "":
		return Attribute{Kind: KindUser, Name: ad.Name, Role: AuditRole(ad.User)}
	default:
		return Attribute{
			Kind:          KindSimple,
			Name:          ad.Name,
			Type:          Type(ad.Type),
			Required:      ad.Required,
			Unique:        ad.Unique,
			AllowedValues: ad.AllowedValues,
		}
	}
}

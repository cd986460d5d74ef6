package http

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/planb/internal/core/domain"
	"github.com/samirrijal/planb/internal/core/reconcile"
)

// placeFromSource unwraps the parent value of a Place field resolver.
func placeFromSource(src any) (domain.Place, bool) {
	switch p := src.(type) {
	case domain.Place:
		return p, true
	case *domain.Place:
		if p != nil {
			return *p, true
		}
	}
	return domain.Place{}, false
}

func placeString(get func(*domain.Place) string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		place, ok := placeFromSource(p.Source)
		if !ok {
			return nil, nil
		}
		return get(&place), nil
	}
}

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	jsonType := graphql.NewScalar(graphql.ScalarConfig{
		Name:        "JSON",
		Description: "Arbitrary JSON object",
		Serialize:   func(v any) any { return v },
	})

	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lon": &graphql.Field{Type: graphql.Float},
			"lat": &graphql.Field{Type: graphql.Float},
		},
	})

	placeType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Place",
		Fields: graphql.Fields{
			"id": &graphql.Field{Type: graphql.String},
			"name": &graphql.Field{
				Type:    graphql.String,
				Resolve: placeString((*domain.Place).Name),
			},
			"category": &graphql.Field{
				Type:    graphql.String,
				Resolve: placeString((*domain.Place).Category),
			},
			"description": &graphql.Field{
				Type: graphql.String,
				Resolve: placeString(func(p *domain.Place) string {
					s, _ := p.Properties[domain.PropDescription].(string)
					return s
				}),
			},
			"properties":       &graphql.Field{Type: jsonType},
			"geometry":         &graphql.Field{Type: geoPointType},
			"needs_correction": &graphql.Field{Type: graphql.Boolean},
		},
	})

	categoryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "CategoryCount",
		Fields: graphql.Fields{
			"category": &graphql.Field{Type: graphql.String},
			"count":    &graphql.Field{Type: graphql.Int},
		},
	})

	reportType := graphql.NewObject(graphql.ObjectConfig{
		Name: "ReconcileReport",
		Fields: graphql.Fields{
			"point":    &graphql.Field{Type: geoPointType},
			"original": &graphql.Field{Type: geoPointType},
			"outcome": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(reconcile.Report).Outcome.String(), nil
				},
			},
			"correction": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(reconcile.Report).Correction.String(), nil
				},
			},
			"needs_correction": &graphql.Field{
				Type: graphql.Boolean,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(reconcile.Report).NeedsManualCorrection(), nil
				},
			},
			"within_allowed_area": &graphql.Field{
				Type: graphql.Boolean,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return deps.Places.Engine().IsWithinAllowedArea(p.Source.(reconcile.Report).Point), nil
				},
			},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"places": &graphql.Field{
				Type:        graphql.NewList(placeType),
				Description: "List places, optionally filtered by category, text or distance",
				Args: graphql.FieldConfigArgument{
					"category": &graphql.ArgumentConfig{Type: graphql.String},
					"search":   &graphql.ArgumentConfig{Type: graphql.String},
					"lat":      &graphql.ArgumentConfig{Type: graphql.Float},
					"lon":      &graphql.ArgumentConfig{Type: graphql.Float},
					"radius":   &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: defaultRadiusMeters},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					var f domain.PlaceFilter
					f.Category, _ = p.Args["category"].(string)
					f.Search, _ = p.Args["search"].(string)
					lat, hasLat := p.Args["lat"].(float64)
					lon, hasLon := p.Args["lon"].(float64)
					if hasLat != hasLon {
						return nil, errors.New("lat and lon must be given together")
					}
					if hasLat {
						f.Near = &domain.GeoPoint{Lon: lon, Lat: lat}
						f.RadiusMeters, _ = p.Args["radius"].(float64)
					}
					return deps.Places.List(p.Context, f)
				},
			},
			"place": &graphql.Field{
				Type:        placeType,
				Description: "Get a place by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return deps.Places.GetByID(p.Context, p.Args["id"].(string))
				},
			},
			"categories": &graphql.Field{
				Type:        graphql.NewList(categoryType),
				Description: "Place counts per category",
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return deps.Places.Categories(p.Context)
				},
			},
			"reconcile": &graphql.Field{
				Type:        reportType,
				Description: "Run coordinate reconciliation on a point",
				Args: graphql.FieldConfigArgument{
					"lon": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"lat": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					pt := domain.GeoPoint{Lon: p.Args["lon"].(float64), Lat: p.Args["lat"].(float64)}
					return deps.Places.Reconcile(pt), nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

type gqlRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// schema definition bug
		panic("graphql schema build: " + err.Error())
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil || req.Query == "" {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}

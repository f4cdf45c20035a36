package main

import (
	"fmt"
	"time"

	"github.com/bhoriuchi/graphql-go-cable/logger"
	"github.com/graphql-go/graphql"
)

func buildSchema(l *logger.LogWrapper) (*graphql.Schema, error) {
	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{
			Name: "Query",
			Fields: graphql.Fields{
				"hello": &graphql.Field{
					Type: graphql.String,
					Args: graphql.FieldConfigArgument{
						"name": &graphql.ArgumentConfig{
							Type:         graphql.String,
							DefaultValue: "world",
						},
					},
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						return fmt.Sprintf("hello %s", p.Args["name"]), nil
					},
				},
			},
		}),
		Subscription: graphql.NewObject(graphql.ObjectConfig{
			Name: "Subscription",
			Fields: graphql.Fields{
				"watch": &graphql.Field{
					Type: graphql.String,
					Args: graphql.FieldConfigArgument{
						"iterations": &graphql.ArgumentConfig{
							Type:         graphql.Int,
							DefaultValue: 10,
						},
						"waitSeconds": &graphql.ArgumentConfig{
							Type:         graphql.Int,
							DefaultValue: 1,
						},
					},
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						return p.Source, nil
					},
					Subscribe: func(p graphql.ResolveParams) (interface{}, error) {
						iterations := p.Args["iterations"].(int)
						waitDuration := time.Duration(p.Args["waitSeconds"].(int)) * time.Second

						c := make(chan interface{})
						go func() {
							defer close(c)
							for i := 0; i < iterations; i++ {
								select {
								case <-p.Context.Done():
									l.Tracef("watch cancelled after %d iterations", i)
									return
								case <-time.After(waitDuration):
								}

								msg := fmt.Sprintf("Iteration %d of %d", i+1, iterations)
								l.Tracef("Sending message: %q", msg)

								select {
								case <-p.Context.Done():
									return
								case c <- msg:
								}
							}
							l.Tracef("Closing channel")
						}()

						return c, nil
					},
				},
			},
		}),
	})

	if err != nil {
		return nil, err
	}

	return &schema, nil
}

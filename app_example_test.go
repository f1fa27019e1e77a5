// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package relay_test

import (
	"context"
	"fmt"
	"strings"

	"github.com/z5labs/relay"
	"github.com/z5labs/relay/config"
	"github.com/z5labs/relay/scope"
)

type greeterConfig struct {
	Greeting string `config:"greeting"`
	Name     string `config:"name"`
}

func ExampleRun() {
	builder := relay.AppBuilderFunc[greeterConfig](func(ctx context.Context, sc *scope.Scope, cfg greeterConfig) (relay.App, error) {
		_, err := sc.Effect(func() (scope.Release, error) {
			return func() error {
				fmt.Println("goodbye")
				return nil
			}, nil
		})
		if err != nil {
			return nil, err
		}

		app := relay.AppFunc(func(ctx context.Context) error {
			fmt.Printf("%s, %s\n", cfg.Greeting, cfg.Name)
			return nil
		})
		return app, nil
	})

	err := relay.Run(
		context.Background(),
		builder,
		relay.Name("greeter"),
		relay.Config(
			config.FromYaml(strings.NewReader("greeting: hello\nname: nobody")),
			config.Map{"name": "world"},
		),
	)
	if err != nil {
		fmt.Println(err)
		return
	}
	//Output: hello, world
	//goodbye
}

func ExampleWithScope() {
	sc := scope.New()
	_, err := sc.Effect(func() (scope.Release, error) {
		fmt.Println("acquired")
		return func() error {
			fmt.Println("released")
			return nil
		}, nil
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	app := relay.WithScope(relay.AppFunc(func(ctx context.Context) error {
		fmt.Println("running")
		return nil
	}), sc)

	err = app.Run(context.Background())
	if err != nil {
		fmt.Println(err)
		return
	}
	//Output: acquired
	//running
	//released
}

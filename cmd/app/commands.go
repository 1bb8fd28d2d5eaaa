package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/starford/airules/internal"
	"github.com/starford/airules/internal/endpoint"
	"github.com/starford/airules/internal/recipe"
)

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{Name: "json", Usage: "Print JSON instead of text"}
}

func commands(out io.Writer) []*cli.Command {
	return []*cli.Command{
		{
			Name:  "list",
			Usage: "List recipes",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "category", Usage: "Only recipes in this category"},
				&cli.StringFlag{Name: "tag", Usage: "Only recipes carrying this tag"},
				jsonFlag(),
			},
			Action: withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
				recipes := app.Service.List(ctx, cmd.String("category"))
				if tag := cmd.String("tag"); tag != "" {
					recipes = slices.DeleteFunc(recipes, func(r recipe.Recipe) bool {
						return !slices.ContainsFunc(r.Tags, func(t string) bool { return strings.EqualFold(t, tag) })
					})
				}
				if cmd.Bool("json") {
					return printJSON(out, recipes)
				}
				printTable(out, recipes)
				fmt.Fprintf(out, "\n%d recipes (%s)\n", len(recipes), app.Service.Tier())
				return nil
			}),
		},
		{
			Name:      "search",
			Usage:     "Search recipes by name, description, category, stack or tag",
			ArgsUsage: "<query>",
			Flags:     []cli.Flag{jsonFlag()},
			Action: withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
				query := strings.Join(cmd.Args().Slice(), " ")
				results := app.Service.Search(ctx, query)
				if cmd.Bool("json") {
					return printJSON(out, results)
				}
				if len(results) == 0 {
					fmt.Fprintf(out, "no recipes match %q\n", query)
					return nil
				}
				printTable(out, results)
				return nil
			}),
		},
		{
			Name:      "show",
			Usage:     "Print one recipe",
			ArgsUsage: "<key>",
			Flags:     []cli.Flag{jsonFlag()},
			Action: withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
				key := cmd.Args().First()
				if key == "" {
					return errors.New("show: recipe key is required")
				}
				r, err := app.Service.Get(ctx, key)
				if err != nil {
					return fmt.Errorf("show: %s: %w", key, err)
				}
				if cmd.Bool("json") {
					return printJSON(out, r)
				}
				return printRecipe(out, r)
			}),
		},
		{
			Name:  "refresh",
			Usage: "Fetch recipes from the remote and rewrite the cache",
			Flags: []cli.Flag{jsonFlag()},
			Action: withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
				sum := app.Service.Refresh(ctx)
				if cmd.Bool("json") {
					return printJSON(out, sum)
				}
				fmt.Fprintf(out, "%d recipes from %s (%d local)\n", sum.Count, sum.Tier, sum.Local)
				for _, a := range sum.Attempts {
					if a.Error != "" {
						fmt.Fprintf(out, "  %s: %s\n", a.Tier, a.Error)
					}
				}
				return nil
			}),
		},
		{
			Name:  "cache",
			Usage: "Inspect or clear the local cache",
			Commands: []*cli.Command{
				{
					Name:  "info",
					Usage: "Show cache location, age and validity",
					Flags: []cli.Flag{jsonFlag()},
					Action: withApp(func(_ context.Context, cmd *cli.Command, app *internal.App) error {
						st := app.Service.CacheStatus()
						if cmd.Bool("json") {
							return printJSON(out, st)
						}
						tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
						fmt.Fprintf(tw, "directory\t%s\n", st.Dir)
						fmt.Fprintf(tw, "exists\t%t\n", st.Exists)
						fmt.Fprintf(tw, "valid\t%t\n", st.Valid)
						fmt.Fprintf(tw, "files\t%d\n", st.Files)
						fmt.Fprintf(tw, "ttl\t%s\n", st.TTL)
						if st.Metadata != nil {
							fmt.Fprintf(tw, "last update\t%s (%s ago)\n", st.Metadata.LastUpdate.Local().Format(time.RFC3339), st.Age.Round(time.Second))
							fmt.Fprintf(tw, "recipes\t%d\n", st.Metadata.RecipeCount)
						}
						if st.Error != "" {
							fmt.Fprintf(tw, "error\t%s\n", st.Error)
						}
						return tw.Flush()
					}),
				},
				{
					Name:  "clear",
					Usage: "Delete the cache directory",
					Action: withApp(func(_ context.Context, _ *cli.Command, app *internal.App) error {
						if err := app.Service.ClearCache(); err != nil {
							return err
						}
						fmt.Fprintf(out, "cleared %s\n", app.Cache.Dir())
						return nil
					}),
				},
			},
		},
		{
			Name:  "configure",
			Usage: "Show or change the remote endpoints for this run",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "set-list-endpoint", Usage: "New listing endpoint"},
				&cli.StringFlag{Name: "set-content-base", Usage: "New raw content base URL"},
				&cli.DurationFlag{Name: "set-ttl", Usage: "New cache time-to-live"},
				&cli.BoolFlag{Name: "test", Usage: "Probe the endpoints after applying changes"},
				jsonFlag(),
			},
			Action: withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
				var p endpoint.Patch
				if cmd.IsSet("set-list-endpoint") {
					v := cmd.String("set-list-endpoint")
					p.ListEndpoint = &v
				}
				if cmd.IsSet("set-content-base") {
					v := cmd.String("set-content-base")
					p.ContentEndpointBase = &v
				}
				if cmd.IsSet("set-ttl") {
					v := cmd.Duration("set-ttl")
					p.TTL = &v
				}
				settings := app.Service.Endpoints()
				if !p.Empty() {
					var err error
					if settings, err = app.Service.UpdateEndpoints(p); err != nil {
						return fmt.Errorf("configure: %w", err)
					}
				}

				if cmd.Bool("json") && !cmd.Bool("test") {
					return printJSON(out, settings)
				}
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintf(tw, "list endpoint\t%s\n", settings.ListEndpoint)
				fmt.Fprintf(tw, "content base\t%s\n", settings.ContentEndpointBase)
				fmt.Fprintf(tw, "ttl\t%s\n", settings.TTL)
				fmt.Fprintf(tw, "bundled fallback\t%t\n", settings.AllowBundledFallback)
				if err := tw.Flush(); err != nil {
					return err
				}
				if !cmd.Bool("test") {
					return nil
				}
				fmt.Fprintln(out)
				return diagnose(ctx, out, app, cmd.Bool("json"))
			}),
		},
		{
			Name:  "doctor",
			Usage: "Probe the remote endpoints and report reachability, latency and rate limit",
			Flags: []cli.Flag{jsonFlag()},
			Action: withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
				return diagnose(ctx, out, app, cmd.Bool("json"))
			}),
		},
		{
			Name:  "serve",
			Usage: "Serve the HTTP API",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "port", Usage: "Override the HTTP port"},
			},
			Action: serve,
		},
		{
			Name:   "mcp",
			Usage:  "Serve MCP tools on stdin/stdout",
			Action: mcp,
		},
	}
}

func diagnose(ctx context.Context, out io.Writer, app *internal.App, asJSON bool) error {
	rep := app.Service.Diagnose(ctx)
	if asJSON {
		if err := printJSON(out, rep); err != nil {
			return err
		}
	} else if err := rep.Render(out); err != nil {
		return err
	}
	if !rep.OK() {
		return errors.New("remote endpoints are not healthy")
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTable(w io.Writer, recipes []recipe.Recipe) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tNAME\tCATEGORY\tORIGIN\tTAGS")
	for _, r := range recipes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Key, r.Name, r.Category, r.Source.Origin, strings.Join(r.Tags, ","))
	}
	_ = tw.Flush()
}

// printRecipe writes the recipe as YAML followed by its provenance.
func printRecipe(w io.Writer, r recipe.Recipe) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	fmt.Fprintf(w, "# origin: %s", r.Source.Origin)
	if r.Source.URL != "" {
		fmt.Fprintf(w, " (%s)", r.Source.URL)
	}
	fmt.Fprintln(w)
	return nil
}

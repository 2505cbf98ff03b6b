package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"hogflow/internal/config"
	"hogflow/internal/destinations"
	"hogflow/internal/fetch"
	"hogflow/internal/logger"
	"hogflow/internal/persons"
	"hogflow/internal/templates"
	"hogflow/pkg/hog"
	"hogflow/pkg/models"
)

type runOptions struct {
	template   string
	eventFile  string
	inputsFile string
	live       bool
}

// runOutput is printed as JSON. Requests are only filled for dry runs.
type runOutput struct {
	Result   *models.InvocationResult `json:"result"`
	Requests []hog.FetchRequest       `json:"requests,omitempty"`
}

func runCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a template once against an event",
		Long: `Run a template file or builtin template id against an event JSON file.
Requests are recorded and answered with 200 unless --live is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()
			return runTemplate(ctx, cfg, log, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.template, "template", "", "Template file or builtin template id (required)")
	cmd.Flags().StringVar(&opts.eventFile, "event", "", "Event JSON file (required)")
	cmd.Flags().StringVar(&opts.inputsFile, "inputs", "", "Input values JSON file")
	cmd.Flags().BoolVar(&opts.live, "live", false, "Send requests through the fetch bridge")
	_ = cmd.MarkFlagRequired("template")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

func runTemplate(ctx context.Context, cfg *config.Config, log logger.Logger, opts runOptions, out io.Writer) error {
	t, err := resolveTemplate(opts.template)
	if err != nil {
		return err
	}

	inputs := map[string]hog.Value{}
	if opts.inputsFile != "" {
		if inputs, err = readInputs(opts.inputsFile); err != nil {
			return err
		}
	}

	fn := destinations.FunctionFromTemplate(t, inputs)
	if err := fn.Validate(); err != nil {
		return fmt.Errorf("invalid inputs: %w", err)
	}

	ev, err := readEvent(opts.eventFile)
	if err != nil {
		return err
	}

	executor := destinations.NewExecutor(cfg.Hog, log)
	compiled, err := executor.Compile(fn)
	if err != nil {
		return err
	}

	dry := fetch.NewDryRun()
	var fetcher hog.Fetcher = dry
	if opts.live {
		bridge, err := fetch.NewBridge(cfg.Fetch, log)
		if err != nil {
			return err
		}
		fetcher = bridge
	}

	person := persons.Anonymous(ev.DistinctID)
	if ev.Person != nil {
		p := persons.Person{ID: ev.Person.ID, DistinctIDs: []string{ev.DistinctID}, Properties: ev.Person.Properties}
		person = p.Value(cfg.Destinations.SiteURL)
	}

	result := executor.Invoke(ctx, compiled, hog.Globals{
		Event:  destinations.EventGlobals(ev),
		Person: person,
	}, fetcher)

	output := runOutput{Result: result}
	if !opts.live {
		output.Requests = redactRequests(compiled.Redactor(), dry.Requests())
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(output); err != nil {
		return err
	}
	if result.Status == models.InvocationFailed {
		return fmt.Errorf("invocation failed: %s", result.Error)
	}
	return nil
}

func resolveTemplate(ref string) (templates.Template, error) {
	if _, err := os.Stat(ref); err == nil {
		return templates.LoadFile(ref)
	} else if !errors.Is(err, os.ErrNotExist) {
		return templates.Template{}, err
	}

	builtins, err := templates.Builtins()
	if err != nil {
		return templates.Template{}, err
	}
	for _, t := range builtins {
		if t.ID == ref {
			return t, nil
		}
	}
	return templates.Template{}, fmt.Errorf("template %q is neither a file nor a builtin template", ref)
}

// readInputs keeps the document order of dictionary inputs.
func readInputs(path string) (map[string]hog.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	v, err := hog.ParseJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if v.Kind() != hog.KindMap {
		return nil, fmt.Errorf("%s: inputs must be a JSON object", path)
	}

	inputs := make(map[string]hog.Value, v.Map().Len())
	for _, k := range v.Map().Keys() {
		inputs[k], _ = v.Map().Get(k)
	}
	return inputs, nil
}

func readEvent(path string) (models.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Event{}, err
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return models.Event{}, fmt.Errorf("%s: %w", path, err)
	}
	ev, err := models.EventFromEnvelope(models.NewEnvelope(uuid.New().String(), "hogctl", payload))
	if err != nil {
		return models.Event{}, fmt.Errorf("%s: %w", path, err)
	}
	return ev, nil
}

func redactRequests(redactor *hog.Redactor, reqs []hog.FetchRequest) []hog.FetchRequest {
	out := make([]hog.FetchRequest, len(reqs))
	for i, r := range reqs {
		headers := make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			if http.CanonicalHeaderKey(k) == "Authorization" {
				headers[k] = hog.Mask
				continue
			}
			headers[k] = redactor.Redact(v)
		}
		out[i] = hog.FetchRequest{
			Method:  r.Method,
			URL:     redactor.Redact(r.URL),
			Headers: headers,
			Body:    redactor.Redact(r.Body),
		}
	}
	return out
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/alecthomas/kong"
	konghcl "github.com/alecthomas/kong-hcl/v2"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"stream-rpc/client"
	"stream-rpc/conf"
	log "stream-rpc/logger"
)

type arguments struct {
	Config kong.ConfigFlag   `help:"Path to config file" type:"existingfile"`
	Client conf.ClientConfig `help:"Client configuration" embed:"" prefix:""`
	Log    log.Config        `help:"Configuration for the logger" embed:"" prefix:"log-"`
	Loop   bool              `help:"Use the event loop client instead of the blocking client"`
	Repeat int               `help:"Number of concurrent calls to make" default:"1"`
	Kw     string            `help:"Keyword arguments as a JSON object" default:"{}"`
	Method string            `arg:"" help:"Name of the remote function"`
	Args   []string          `arg:"" optional:"" help:"Positional arguments, each parsed as JSON or taken as a string"`
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	positional := parseArgs(cfg.Args)
	kw, err := parseKw(cfg.Kw)
	if err != nil {
		return err
	}

	ctx := context.Background()
	var c client.Caller
	if cfg.Loop {
		c, err = client.DialLoop(ctx, cfg.Client)
	} else {
		c, err = client.Dial(ctx, cfg.Client)
	}
	if err != nil {
		return err
	}
	defer func() {
		_ = c.Close()
	}()

	var outLock sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Repeat; i++ {
		g.Go(func() error {
			res, err := c.CallKw(ctx, cfg.Method, positional, kw)
			if err != nil {
				return err
			}
			data, err := json.Marshal(res)
			if err != nil {
				return errors.WithStack(err)
			}
			outLock.Lock()
			defer outLock.Unlock()
			_, err = fmt.Fprintln(out, string(data))
			return errors.WithStack(err)
		})
	}
	return g.Wait()
}

func loadConfig(args []string) (*arguments, error) {
	var cleaned []string
	for _, arg := range args {
		if strings.TrimSpace(arg) != "" {
			cleaned = append(cleaned, arg)
		}
	}
	cfg := &arguments{}
	parser, err := kong.New(cfg, kong.Configuration(konghcl.Loader))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if _, err := parser.Parse(cleaned); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := cfg.Log.Configure(); err != nil {
		return nil, errors.WithStack(err)
	}
	if cfg.Repeat < 1 {
		return nil, errors.New("invalid configuration - repeat must be >= 1")
	}
	cfg.Client.ApplyDefaults()
	if err := cfg.Client.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseArgs decodes each argument as JSON. Anything that is not valid JSON is passed as a
// string, so `add 2 3` and `echo hello` both work.
func parseArgs(args []string) []any {
	values := make([]any, 0, len(args))
	for _, arg := range args {
		if gjson.Valid(arg) {
			values = append(values, gjson.Parse(arg).Value())
			continue
		}
		values = append(values, arg)
	}
	return values
}

func parseKw(kw string) (map[string]any, error) {
	if strings.TrimSpace(kw) == "" {
		return nil, nil
	}
	if !gjson.Valid(kw) {
		return nil, errors.Errorf("--kw is not valid json: %s", kw)
	}
	res := gjson.Parse(kw)
	if !res.IsObject() {
		return nil, errors.Errorf("--kw must be a json object, got %s", kw)
	}
	m, _ := res.Value().(map[string]interface{})
	return m, nil
}

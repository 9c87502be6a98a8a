// Copyright 2025 The Witness Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command pushguard is a git pre-receive hook that rejects pushes adding
// secrets. It reads "<old> <new> <ref>" lines on stdin and exits 1 with the
// rejection on stderr when a secret is found.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/in-toto/pushguard"
	"github.com/in-toto/pushguard/audit"
	"github.com/in-toto/pushguard/changes"
	"github.com/in-toto/pushguard/config"
	"github.com/in-toto/pushguard/environment"
	"github.com/in-toto/pushguard/eventstore"
	"github.com/in-toto/pushguard/exclusion"
	"github.com/in-toto/pushguard/forwarder"
	"github.com/in-toto/pushguard/log"
	"github.com/in-toto/pushguard/payload"
	"github.com/in-toto/pushguard/repository/gitrepo"
	"github.com/in-toto/pushguard/scanner"
	"github.com/in-toto/pushguard/telemetry"
	"github.com/joho/godotenv"
)

// Environment read besides the PUSHGUARD_* settings.
const (
	envPrefix      = config.EnvPrefix + "_"
	envConfig      = envPrefix + "CONFIG"
	envUser        = "GL_USERNAME"
	envProject     = "GL_PROJECT_PATH"
	envProtocol    = "GL_PROTOCOL"
	envSecretsFlag = envPrefix + "ENABLE_SECRETS_CHECK"
	envOptionCount = "GIT_PUSH_OPTION_COUNT"
	envOptionN     = "GIT_PUSH_OPTION_"
)

func main() {
	_ = godotenv.Load(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stderr, os.Getenv))
}

func run(ctx context.Context, args []string, stdin io.Reader, stderr io.Writer, getenv func(string) string) int {
	fs := flag.NewFlagSet("pushguard", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", getenv(envConfig), "Path to the pushguard config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "pushguard: %v\n", err)
		return 2
	}

	log.SetLogger(log.NewZerologWithWriter(stderr, cfg.LogLevel, cfg.LogFormat))
	hookEnv := environment.New(environment.WithPrefixes("GL_", "GIT_", envPrefix))
	log.Debugf("(pushguard) hook environment: %s", environment.String(hookEnv.Redact(os.Environ())))

	set, err := readChangeSet(stdin, getenv)
	if err != nil {
		fmt.Fprintf(stderr, "pushguard: %v\n", err)
		return 2
	}

	repo, err := gitrepo.Open(cfg.Repository.Path,
		gitrepo.WithMaxTreeEntries(cfg.Repository.MaxTreeEntries),
		gitrepo.WithTreeCacheTTL(cfg.Repository.TreeCacheTTL),
		gitrepo.WithObjectDirectories(gitrepo.ObjectDirectoriesFromEnv(getenv)...))
	if err != nil {
		fmt.Fprintf(stderr, "pushguard: %v\n", err)
		return 2
	}

	var (
		recorder audit.Recorder         = audit.LogRecorder{}
		tracker  telemetry.Tracker      = telemetry.LogTracker{}
		errs     telemetry.ErrorTracker = telemetry.LogTracker{}
	)

	if cfg.EventDB != "" {
		store, err := eventstore.Open(ctx, cfg.EventDB)
		if err != nil {
			log.Errorf("(pushguard) event store unavailable, logging events instead: %s", err)
		} else {
			defer store.Close()
			recorder, tracker, errs = audit.Multi(store, audit.LogRecorder{}), store, store
		}
	}

	verdict, err := pushguard.Validate(ctx, set,
		pushguard.ValidateWithRepository(repo),
		pushguard.ValidateWithPolicy(cfg.Policy()),
		pushguard.ValidateWithExclusions(cfg.ExclusionSource()),
		pushguard.ValidateWithScannerFactory(func(context.Context) (scanner.Scanner, error) {
			return scanner.NewGitleaks(
				scanner.WithConfigPath(cfg.Scanner.RulesPath),
				scanner.WithWorkers(cfg.Scanner.Workers),
				scanner.WithPayloadTimeout(cfg.Scanner.PayloadTimeout))
		}),
		pushguard.ValidateWithAudit(recorder),
		pushguard.ValidateWithTracker(tracker),
		pushguard.ValidateWithErrorTracker(errs),
		pushguard.ValidateWithTimeout(cfg.Timeout),
		pushguard.ValidateWithDocsURL(cfg.DocsURL),
		pushguard.ValidateWithForwarderOpts(
			forwarder.WithEndpoint(cfg.Remote.Endpoint),
			forwarder.WithAuthToken(cfg.Remote.AuthToken),
			forwarder.WithInsecure(cfg.Remote.Insecure)),
		pushguard.ValidateWithProcessorOpts(
			payload.WithBatchSize(cfg.Payload.BatchSize),
			payload.WithDiffByteLimit(cfg.Payload.DiffByteLimit)),
		pushguard.ValidateWithMatcherOpts(
			exclusion.WithMaxPathDepth(cfg.Exclusions.MaxPathDepth),
			exclusion.WithMaxPathExclusions(cfg.Exclusions.MaxPathExclusions)),
	)
	if err != nil {
		fmt.Fprintf(stderr, "pushguard: %v\n", err)
		return 2
	}

	if !verdict.IsAllowed() {
		fmt.Fprint(stderr, verdict.Message())
		return 1
	}

	return 0
}

func readChangeSet(stdin io.Reader, getenv func(string) string) (changes.ChangeSet, error) {
	set := changes.ChangeSet{
		Protocol:    changes.ProtocolSSH,
		User:        getenv(envUser),
		Project:     getenv(envProject),
		PushOptions: pushOptions(getenv),
	}

	if p := getenv(envProtocol); p != "" {
		set.Protocol = changes.Protocol(strings.ToLower(p))
	}

	set.EnableSecretsCheck, _ = strconv.ParseBool(getenv(envSecretsFlag))

	lines := bufio.NewScanner(stdin)
	for lines.Scan() {
		line := strings.TrimSpace(lines.Text())
		if line == "" {
			continue
		}

		change, err := changes.ParseReceiveLine(line)
		if err != nil {
			return set, err
		}

		set.Changes = append(set.Changes, change)
	}

	if err := lines.Err(); err != nil {
		return set, fmt.Errorf("failed to read ref updates: %w", err)
	}

	return set, nil
}

// pushOptions reads the "git push -o" values git exports to the hook.
func pushOptions(getenv func(string) string) []string {
	n, err := strconv.Atoi(getenv(envOptionCount))
	if err != nil || n <= 0 {
		return nil
	}

	opts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if v := getenv(envOptionN + strconv.Itoa(i)); v != "" {
			opts = append(opts, v)
		}
	}

	return opts
}

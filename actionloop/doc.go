// Package actionloop implements a multi-turn code-editing loop driven by a
// text-only language model.
//
// Instead of provider tool-calling, the model speaks a closed XML action
// vocabulary: write_file, edit_file, need_context, and done. Each turn the
// loop sends a prompt, parses the response into actions, and either
// resolves requested context (file reads, searches, directory listings,
// API overviews) or applies file mutations atomically under the working
// tree root and runs external lint/compile verification. Results are fed
// back as the next prompt until the model declares done or a budget runs
// out.
//
// # Architecture
//
// The package is organized around these core concepts:
//
//   - Session: The central orchestrator holding turn history, driving the
//     state machine, and enforcing the turn and protocol-retry budgets.
//   - Parse: Decodes a model response into the action vocabulary, tolerant
//     of surrounding prose but strict about unknown or mixed actions.
//   - ContextResolver: Serves need_context requests from the working tree,
//     honoring .gitignore and hard result caps.
//   - FileMutator: Applies write_file and edit_file batches with per-file
//     atomic commits and path containment.
//   - Verifier: Runs an external lint or compile command and reports its
//     diagnostics.
//   - EventEmitter: Typed event stream for host application integration.
//
// # Quick Start
//
//	client := textgen.NewClientFromEnv()
//	session := actionloop.NewSession("/path/to/project", client, nil,
//	    actionloop.WithVerifiers(actionloop.NewVerifier(actionloop.VerifyLint, "golangci-lint run", "/path/to/project", 0, nil)))
//
//	report, err := session.Run(ctx, "Add a --version flag to the CLI")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(report.State, report.Summary)
package actionloop

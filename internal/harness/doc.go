// Package harness runs declarative sysmaster integration scenarios.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: base_target
//	description: "base.target reaches active"
//	daemon: true
//	setup:
//	  - action: start
//	    unit: base.target
//	assertions:
//	  - type: unit_status
//	    unit: base.target
//	    state: active
//	  - type: log_contains
//	    patterns: ["^ready$"]
//	  - type: pid_count
//	    unit: foo.service
//	    count: 1
//
// # Assertion Types
//
//   - unit_status: the unit's Active: field equals state (polled with retry)
//   - unit_load: the unit's Loaded: field equals state (polled with retry)
//   - log_contains: every pattern matches the log file (path, or the daemon log)
//   - pid_count: the unit's PID: section lists exactly count processes
//   - expect_eq: actual equals expected
//
// Every assertion is evaluated. A failing assertion increments the run's
// failure counter and adds an error to the Result; it never stops the
// scenario. Only a daemon start failure ends a scenario early.
//
// # Golden Traces
//
// The Result trace lists each step with a sequence number, its kind, name,
// unit and outcome. It holds no pids or timestamps, so the same scenario
// against the same system produces the same trace. AssertGolden compares it
// with testdata/golden/<name>.golden.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/base.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario, harness.Deps{
//	    Daemon:  daemon.New(cfg, logger),
//	    Control: sctl.NewClient(cfg.ControlBinary),
//	    Poller:  poll.New(client, logger),
//	})
package harness

// Package policy admits compiled plans using Open Policy Agent.
//
// Every policy is a Rego module whose package defines "deny" and/or "warn"
// partial set rules. The engine evaluates each enabled policy against an
// input document of the form
//
//	{"plan": <ExecutionPlan.Document()>, "context": {"operation": "run", ...}}
//
// Deny results block the plan unless they carry a non-error severity; warn
// results are logged and never block. A result element is either a string
// message or an object with "message" and optional "severity" and "step".
//
// Built-in policies:
//
//   - grid-size rejects grids with more than 16M cells
//   - host-phase rejects host-phase steps that provide no effect tag
//   - verbose-trace warns when more than 4 steps trace verbosely
//
// Custom policies load from .rego or .json files:
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//	    return err
//	}
//	if _, err := eng.Admit(ctx, plan, "run"); err != nil {
//	    return err // *policy.AdmissionError
//	}
package policy

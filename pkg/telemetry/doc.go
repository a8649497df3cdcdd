// Package telemetry provides observability for sysmaint runs.
//
// It combines three pieces:
//
//  1. Logger - the process log sink. With JSON output enabled each event is
//     one line on stdout shaped as {timestamp, level, module, message, fields};
//     otherwise events render as "[LEVEL] message" on stderr, colored when
//     stderr is a terminal.
//  2. Tracer - OpenTelemetry spans for each workflow run and step. Disabled
//     unless configured.
//  3. Metrics - Prometheus gauges and counters about the last run, written
//     to a node_exporter textfile when a path is configured.
//
// # Usage
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//		return err
//	}
//	defer tel.Shutdown(ctx)
//
//	step := tel.StartStep(ctx, "update", "RefreshCache")
//	err = provider.RefreshCache(step.Ctx)
//	step.End("succeeded", err)
package telemetry

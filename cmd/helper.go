package cmd

import (
	"fmt"

	"github.com/playpenhq/playpen/orchestrator"
)

// initOrchestrator builds the orchestrator on the docker CLI runtime.
func initOrchestrator() (*orchestrator.Orchestrator, error) {
	runtime := orchestrator.NewDockerRuntime(conf.DockerBinary)
	o, err := orchestrator.New(conf, runtime)
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	return o, nil
}

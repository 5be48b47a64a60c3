package main

import (
	"fmt"

	"github.com/deltaengine/delta/internal/application"
	"github.com/deltaengine/delta/internal/domain/entity"
)

// exitCodeForStatus implements §6.3's exit code contract: 0 = COMPLETED,
// 1 = FAILED, 101 = WAITING_FOR_INPUT, 130 = INTERRUPTED.
func exitCodeForStatus(status entity.RunStatus) int {
	switch status {
	case entity.StatusCompleted:
		return 0
	case entity.StatusWaitingForInput:
		return 101
	case entity.StatusInterrupted:
		return 130
	default:
		return 1
	}
}

// reportResult prints the run ID and final status to stdout, structured
// output per §7 ("User-visible behaviour").
func reportResult(res application.Result) {
	fmt.Printf("run %s finished with status %s\n", res.RunID, res.Status)
}

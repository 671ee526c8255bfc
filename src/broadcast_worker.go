package main

import (
	"context"
	"log"

	"github.com/gg582/ecodemand/src/governor"
)

// broadcastWorker fans tick reports out to every consumer with
// non-blocking sends, so one stalled consumer cannot slow the control
// loops or the other consumers.
func broadcastWorker(
	ctx context.Context,
	reportChan <-chan governor.TickReport,
	outputChans []chan<- governor.TickReport,
) {
	for {
		select {
		case report := <-reportChan:
			for i, ch := range outputChans {
				select {
				case ch <- report:
				case <-ctx.Done():
					return
				default:
					log.Printf("Warning: report consumer %d is behind, dropping a report\n", i)
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

package cache

import "fmt"

// JobResultKey addresses the terminal snapshot of one remote process.
func JobResultKey(processor, processID string) string {
	return fmt.Sprintf("docjobs:job:%s:%s", processor, processID)
}

// WorkFileKey addresses cached metadata for one uploaded WorkFile.
func WorkFileKey(fileID string) string {
	return fmt.Sprintf("docjobs:workfile:%s", fileID)
}

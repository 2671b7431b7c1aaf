// internal/backend/alertmanager/labels.go - Ordered first-match label lookup
package alertmanager

import "strings"

// detectFromLabels resolves a value from a label map using a comma-separated
// priority list: the first list entry present in the map wins. Both the
// hostname and the servicename mapping use this lookup.
func detectFromLabels(labels map[string]string, priorityList, defaultValue string) string {
	for _, key := range strings.Split(priorityList, ",") {
		if value, ok := labels[strings.TrimSpace(key)]; ok {
			return value
		}
	}
	return defaultValue
}

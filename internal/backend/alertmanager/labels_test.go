package alertmanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectFromLabels(t *testing.T) {
	labels := map[string]string{
		"host":     "db1",
		"instance": "db1:9100",
	}

	// first matching key in priority order wins
	assert.Equal(t, "db1:9100", detectFromLabels(labels, "instance,host", "unknown"))
	assert.Equal(t, "db1", detectFromLabels(labels, "host,instance", "unknown"))

	// missing keys fall through to later entries
	assert.Equal(t, "db1", detectFromLabels(labels, "pod_name,host", "unknown"))

	// nothing matches
	assert.Equal(t, "unknown", detectFromLabels(labels, "pod_name,namespace", "unknown"))

	// entries may carry surrounding whitespace
	assert.Equal(t, "db1", detectFromLabels(labels, " pod_name , host ", "unknown"))
}

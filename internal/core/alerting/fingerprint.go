package alerting

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// Fingerprint identifies an alert dimension: the rule plus its label
// set. encoding/json sorts map keys, so label order does not matter.
func Fingerprint(ruleID string, labels map[string]string) string {
	if labels == nil {
		labels = map[string]string{}
	}
	data, _ := json.Marshal(map[string]interface{}{
		"rule_id": ruleID,
		"labels":  labels,
	})
	return fmt.Sprintf("%x", sha256.Sum256(data))[:32]
}

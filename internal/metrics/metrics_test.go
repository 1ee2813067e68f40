package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordRunFinished(t *testing.T) {
	before := testutil.ToFloat64(RunsFinished.WithLabelValues("completed", "none"))
	RecordRunFinished("completed", "")
	after := testutil.ToFloat64(RunsFinished.WithLabelValues("completed", "none"))
	assert.Equal(t, before+1, after)

	before = testutil.ToFloat64(RunsFinished.WithLabelValues("skipped", "no_profile"))
	RecordRunFinished("skipped", "no_profile")
	assert.Equal(t, before+1, testutil.ToFloat64(RunsFinished.WithLabelValues("skipped", "no_profile")))
}

func TestRecordStageAndOracle(t *testing.T) {
	RecordStage("exploration", 150*time.Millisecond)
	RecordOracleCall("recommendation", "ok", time.Second)

	assert.Positive(t, testutil.CollectAndCount(StageDuration))
	assert.Positive(t, testutil.CollectAndCount(OracleCallDuration))
}

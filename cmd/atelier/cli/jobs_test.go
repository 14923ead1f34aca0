package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atelier-b2b/atelier/jobs"
)

func TestBuildTaskSupportsOperationalJobs(t *testing.T) {
	c := &JobsCLI{retention: 24 * time.Hour}

	task, err := c.BuildTask(jobs.TaskExpirySweep)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskExpirySweep, task.Type())

	task, err = c.BuildTask(jobs.TaskIdempotencyCleanup)
	require.NoError(t, err)
	require.JSONEq(t, `{"retention":86400000000000}`, string(task.Payload()))

	_, err = c.BuildTask(jobs.TaskFulfillmentForward)
	require.Error(t, err)
}

func TestNilCLIIsRejected(t *testing.T) {
	var c *JobsCLI
	_, err := c.Trigger(t.Context(), jobs.TaskExpirySweep)
	require.Error(t, err)

	_, err = (&JobsCLI{}).InspectQueues(t.Context())
	require.Error(t, err)
}

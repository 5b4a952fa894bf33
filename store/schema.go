package store

import "fmt"

// DynamoDB schema constants for single-table design
const (
	// Table attributes
	AttrPK         = "PK"
	AttrSK         = "SK"
	AttrGSI1PK     = "GSI1PK"
	AttrGSI1SK     = "GSI1SK"
	AttrGSI2PK     = "GSI2PK"
	AttrGSI2SK     = "GSI2SK"
	AttrEntityType = "entity_type"
	AttrTTL        = "ttl"

	// Entity types
	EntityTypeWorkflow  = "Workflow"
	EntityTypeExecution = "Execution"
	EntityTypeSchedule  = "Schedule"
	EntityTypeTemplate  = "Template"

	// Index names
	IndexEntityIndex = "GSI1"
	IndexStatusIndex = "GSI2"
)

// Key builders for single-table design

// Workflow keys: PK=WF#{workflowID}, SK=META
func workflowPK(workflowID string) string {
	return fmt.Sprintf("WF#%s", workflowID)
}

// Entity listing partitions: GSI1PK=ENTITY#{type}, GSI1SK=created_at
func entityGSI1PK(entityType string) string {
	return fmt.Sprintf("ENTITY#%s", entityType)
}

// Execution keys: PK=EXEC#{executionID}, SK=META
func executionPK(executionID string) string {
	return fmt.Sprintf("EXEC#%s", executionID)
}

// Executions by workflow: GSI1PK=WF#{workflowID}#EXEC, GSI1SK=created_at
func executionGSI1PK(workflowID string) string {
	return fmt.Sprintf("WF#%s#EXEC", workflowID)
}

// Executions by status: GSI2PK=EXEC#STATUS#{status}, GSI2SK=created_at
func executionGSI2PK(status string) string {
	return fmt.Sprintf("EXEC#STATUS#%s", status)
}

// Schedule keys: PK=SCHED#{scheduleID}, SK=META
func schedulePK(scheduleID string) string {
	return fmt.Sprintf("SCHED#%s", scheduleID)
}

// Schedules by status, ordered by next fire time:
// GSI2PK=SCHED#STATUS#{status}, GSI2SK=next_run_at
func scheduleGSI2PK(status string) string {
	return fmt.Sprintf("SCHED#STATUS#%s", status)
}

// Template keys: PK=TMPL#{templateID}, SK=META
func templatePK(templateID string) string {
	return fmt.Sprintf("TMPL#%s", templateID)
}

func metaSK() string {
	return "META"
}

// Sort key sentinel for retired schedules; sorts after any RFC3339 stamp
// so due-before queries never pick them up
const noNextRun = "~"

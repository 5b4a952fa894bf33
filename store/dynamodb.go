package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/flowrunhq/flowrun"
)

// DynamoDBStore implements flowrun.Store on a single DynamoDB table.
// GSI1 partitions records for entity listings and per-workflow execution
// history; GSI2 partitions by status with a time-ordered sort key so due
// and count queries never scan.
type DynamoDBStore struct {
	client    DynamoDBClient
	tableName string
}

// NewDynamoDBStore creates a DynamoDB-backed store
func NewDynamoDBStore(client DynamoDBClient, tableName string) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
	}
}

func (s *DynamoDBStore) putItem(ctx context.Context, item map[string]types.AttributeValue) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	return err
}

func (s *DynamoDBStore) getItem(ctx context.Context, pk string) (map[string]types.AttributeValue, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			AttrPK: &types.AttributeValueMemberS{Value: pk},
			AttrSK: &types.AttributeValueMemberS{Value: metaSK()},
		},
	})
	if err != nil {
		return nil, err
	}
	return result.Item, nil
}

func (s *DynamoDBStore) deleteItem(ctx context.Context, pk string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			AttrPK: &types.AttributeValueMemberS{Value: pk},
			AttrSK: &types.AttributeValueMemberS{Value: metaSK()},
		},
	})
	return err
}

func stringAttr(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

// Workflow operations

func (s *DynamoDBStore) workflowItem(wf *flowrun.Workflow) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(wf)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow: %w", err)
	}

	item[AttrPK] = stringAttr(workflowPK(wf.ID))
	item[AttrSK] = stringAttr(metaSK())
	item[AttrEntityType] = stringAttr(EntityTypeWorkflow)
	item[AttrGSI1PK] = stringAttr(entityGSI1PK(EntityTypeWorkflow))
	item[AttrGSI1SK] = stringAttr(wf.CreatedAt.UTC().Format(time.RFC3339))
	return item, nil
}

func (s *DynamoDBStore) CreateWorkflow(ctx context.Context, wf *flowrun.Workflow) error {
	item, err := s.workflowItem(wf)
	if err != nil {
		return err
	}
	if err := s.putItem(ctx, item); err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) GetWorkflow(ctx context.Context, workflowID string) (*flowrun.Workflow, error) {
	item, err := s.getItem(ctx, workflowPK(workflowID))
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	if item == nil {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, ErrNotFound)
	}

	var wf flowrun.Workflow
	if err := attributevalue.UnmarshalMap(item, &wf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}
	return &wf, nil
}

func (s *DynamoDBStore) UpdateWorkflow(ctx context.Context, wf *flowrun.Workflow) error {
	wf.UpdatedAt = time.Now()

	item, err := s.workflowItem(wf)
	if err != nil {
		return err
	}
	if err := s.putItem(ctx, item); err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) DeleteWorkflow(ctx context.Context, workflowID string) error {
	if err := s.deleteItem(ctx, workflowPK(workflowID)); err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) ListWorkflows(ctx context.Context, filter flowrun.WorkflowFilter) ([]*flowrun.Workflow, error) {
	items, err := s.queryAll(ctx, IndexEntityIndex, AttrGSI1PK, entityGSI1PK(EntityTypeWorkflow), filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	var workflows []*flowrun.Workflow
	for _, item := range items {
		var wf flowrun.Workflow
		if err := attributevalue.UnmarshalMap(item, &wf); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
		}
		if filter.Status != "" && wf.Status != filter.Status {
			continue
		}
		if filter.Category != "" && wf.Category != filter.Category {
			continue
		}
		workflows = append(workflows, &wf)
	}
	return workflows, nil
}

// Execution operations

func (s *DynamoDBStore) executionItem(exec *flowrun.Execution) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(exec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execution: %w", err)
	}

	createdAt := exec.CreatedAt.UTC().Format(time.RFC3339)
	item[AttrPK] = stringAttr(executionPK(exec.ID))
	item[AttrSK] = stringAttr(metaSK())
	item[AttrEntityType] = stringAttr(EntityTypeExecution)
	item[AttrGSI1PK] = stringAttr(executionGSI1PK(exec.WorkflowID))
	item[AttrGSI1SK] = stringAttr(createdAt)
	// Status partition changes on every transition; PutItem rewrites the
	// GSI entry along with the record
	item[AttrGSI2PK] = stringAttr(executionGSI2PK(string(exec.Status)))
	item[AttrGSI2SK] = stringAttr(createdAt)
	return item, nil
}

func (s *DynamoDBStore) CreateExecution(ctx context.Context, exec *flowrun.Execution) error {
	item, err := s.executionItem(exec)
	if err != nil {
		return err
	}
	if err := s.putItem(ctx, item); err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) GetExecution(ctx context.Context, executionID string) (*flowrun.Execution, error) {
	item, err := s.getItem(ctx, executionPK(executionID))
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	if item == nil {
		return nil, fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
	}

	var exec flowrun.Execution
	if err := attributevalue.UnmarshalMap(item, &exec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &exec, nil
}

func (s *DynamoDBStore) UpdateExecution(ctx context.Context, exec *flowrun.Execution) error {
	exec.UpdatedAt = time.Now()

	item, err := s.executionItem(exec)
	if err != nil {
		return err
	}
	if err := s.putItem(ctx, item); err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) ListExecutions(ctx context.Context, filter flowrun.ExecutionFilter) ([]*flowrun.Execution, error) {
	var (
		items []map[string]types.AttributeValue
		err   error
	)

	switch {
	case filter.WorkflowID != "":
		items, err = s.queryAll(ctx, IndexEntityIndex, AttrGSI1PK, executionGSI1PK(filter.WorkflowID), 0)
	case filter.Status != nil:
		items, err = s.queryAll(ctx, IndexStatusIndex, AttrGSI2PK, executionGSI2PK(string(*filter.Status)), 0)
	default:
		// No global execution partition; callers filter by workflow or
		// status. Union the status partitions.
		for _, status := range []flowrun.ExecutionStatus{
			flowrun.ExecutionStatusPending,
			flowrun.ExecutionStatusRunning,
			flowrun.ExecutionStatusCompleted,
			flowrun.ExecutionStatusFailed,
		} {
			partition, qerr := s.queryAll(ctx, IndexStatusIndex, AttrGSI2PK, executionGSI2PK(string(status)), 0)
			if qerr != nil {
				return nil, fmt.Errorf("failed to list executions: %w", qerr)
			}
			items = append(items, partition...)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	var executions []*flowrun.Execution
	for _, item := range items {
		var exec flowrun.Execution
		if err := attributevalue.UnmarshalMap(item, &exec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
		}
		if filter.Status != nil && exec.Status != *filter.Status {
			continue
		}
		if filter.Since != nil && exec.CreatedAt.Before(*filter.Since) {
			continue
		}
		executions = append(executions, &exec)
		if filter.Limit > 0 && len(executions) >= filter.Limit {
			break
		}
	}
	return executions, nil
}

func (s *DynamoDBStore) CountExecutionsByStatus(ctx context.Context, status flowrun.ExecutionStatus) (int, error) {
	count := 0
	var lastEvaluatedKey map[string]types.AttributeValue

	for {
		input := &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			IndexName:              aws.String(IndexStatusIndex),
			KeyConditionExpression: aws.String("GSI2PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": stringAttr(executionGSI2PK(string(status))),
			},
			Select: types.SelectCount,
		}
		if lastEvaluatedKey != nil {
			input.ExclusiveStartKey = lastEvaluatedKey
		}

		result, err := s.client.Query(ctx, input)
		if err != nil {
			return 0, fmt.Errorf("failed to count executions: %w", err)
		}
		count += int(result.Count)

		if result.LastEvaluatedKey == nil {
			break
		}
		lastEvaluatedKey = result.LastEvaluatedKey
	}
	return count, nil
}

func (s *DynamoDBStore) DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	cutoffStr := cutoff.UTC().Format(time.RFC3339)

	for _, status := range []flowrun.ExecutionStatus{
		flowrun.ExecutionStatusCompleted,
		flowrun.ExecutionStatusFailed,
	} {
		result, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			IndexName:              aws.String(IndexStatusIndex),
			KeyConditionExpression: aws.String("GSI2PK = :pk AND GSI2SK < :cutoff"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     stringAttr(executionGSI2PK(string(status))),
				":cutoff": stringAttr(cutoffStr),
			},
			ProjectionExpression: aws.String("execution_id"),
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to query stale executions: %w", err)
		}

		for _, item := range result.Items {
			idAttr, ok := item["execution_id"].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			if err := s.deleteItem(ctx, executionPK(idAttr.Value)); err != nil {
				return deleted, fmt.Errorf("failed to delete execution %s: %w", idAttr.Value, err)
			}
			deleted++
		}
	}
	return deleted, nil
}

// Schedule operations

func (s *DynamoDBStore) scheduleItem(sched *flowrun.Schedule) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(sched)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schedule: %w", err)
	}

	nextRun := noNextRun
	if sched.NextRunAt != nil {
		nextRun = sched.NextRunAt.UTC().Format(time.RFC3339)
	}

	item[AttrPK] = stringAttr(schedulePK(sched.ID))
	item[AttrSK] = stringAttr(metaSK())
	item[AttrEntityType] = stringAttr(EntityTypeSchedule)
	item[AttrGSI1PK] = stringAttr(entityGSI1PK(EntityTypeSchedule))
	item[AttrGSI1SK] = stringAttr(sched.CreatedAt.UTC().Format(time.RFC3339))
	item[AttrGSI2PK] = stringAttr(scheduleGSI2PK(string(sched.Status)))
	item[AttrGSI2SK] = stringAttr(nextRun)
	return item, nil
}

func (s *DynamoDBStore) CreateSchedule(ctx context.Context, sched *flowrun.Schedule) error {
	item, err := s.scheduleItem(sched)
	if err != nil {
		return err
	}
	if err := s.putItem(ctx, item); err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) GetSchedule(ctx context.Context, scheduleID string) (*flowrun.Schedule, error) {
	item, err := s.getItem(ctx, schedulePK(scheduleID))
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	if item == nil {
		return nil, fmt.Errorf("schedule %s: %w", scheduleID, ErrNotFound)
	}

	var sched flowrun.Schedule
	if err := attributevalue.UnmarshalMap(item, &sched); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schedule: %w", err)
	}
	return &sched, nil
}

func (s *DynamoDBStore) UpdateSchedule(ctx context.Context, sched *flowrun.Schedule) error {
	sched.UpdatedAt = time.Now()

	item, err := s.scheduleItem(sched)
	if err != nil {
		return err
	}
	if err := s.putItem(ctx, item); err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) DeleteSchedule(ctx context.Context, scheduleID string) error {
	if err := s.deleteItem(ctx, schedulePK(scheduleID)); err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) ListSchedules(ctx context.Context, filter flowrun.ScheduleFilter) ([]*flowrun.Schedule, error) {
	var (
		items []map[string]types.AttributeValue
		err   error
	)

	if filter.Status != nil && filter.DueBefore != nil {
		// Due query: status partition ordered by next_run_at
		result, qerr := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			IndexName:              aws.String(IndexStatusIndex),
			KeyConditionExpression: aws.String("GSI2PK = :pk AND GSI2SK <= :due"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":  stringAttr(scheduleGSI2PK(string(*filter.Status))),
				":due": stringAttr(filter.DueBefore.UTC().Format(time.RFC3339)),
			},
		})
		if qerr != nil {
			return nil, fmt.Errorf("failed to query due schedules: %w", qerr)
		}
		items = result.Items
	} else if filter.Status != nil {
		items, err = s.queryAll(ctx, IndexStatusIndex, AttrGSI2PK, scheduleGSI2PK(string(*filter.Status)), filter.Limit)
	} else {
		items, err = s.queryAll(ctx, IndexEntityIndex, AttrGSI1PK, entityGSI1PK(EntityTypeSchedule), filter.Limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}

	var schedules []*flowrun.Schedule
	for _, item := range items {
		var sched flowrun.Schedule
		if err := attributevalue.UnmarshalMap(item, &sched); err != nil {
			return nil, fmt.Errorf("failed to unmarshal schedule: %w", err)
		}
		if filter.WorkflowID != "" && sched.WorkflowID != filter.WorkflowID {
			continue
		}
		schedules = append(schedules, &sched)
		if filter.Limit > 0 && len(schedules) >= filter.Limit {
			break
		}
	}
	return schedules, nil
}

// Template operations

func (s *DynamoDBStore) CreateTemplate(ctx context.Context, tmpl *flowrun.Template) error {
	item, err := attributevalue.MarshalMap(tmpl)
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}

	item[AttrPK] = stringAttr(templatePK(tmpl.ID))
	item[AttrSK] = stringAttr(metaSK())
	item[AttrEntityType] = stringAttr(EntityTypeTemplate)
	item[AttrGSI1PK] = stringAttr(entityGSI1PK(EntityTypeTemplate))
	item[AttrGSI1SK] = stringAttr(tmpl.ID)

	if err := s.putItem(ctx, item); err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) GetTemplate(ctx context.Context, templateID string) (*flowrun.Template, error) {
	item, err := s.getItem(ctx, templatePK(templateID))
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	if item == nil {
		return nil, fmt.Errorf("template %s: %w", templateID, ErrNotFound)
	}

	var tmpl flowrun.Template
	if err := attributevalue.UnmarshalMap(item, &tmpl); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template: %w", err)
	}
	return &tmpl, nil
}

func (s *DynamoDBStore) ListTemplates(ctx context.Context) ([]*flowrun.Template, error) {
	items, err := s.queryAll(ctx, IndexEntityIndex, AttrGSI1PK, entityGSI1PK(EntityTypeTemplate), 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	var templates []*flowrun.Template
	for _, item := range items {
		var tmpl flowrun.Template
		if err := attributevalue.UnmarshalMap(item, &tmpl); err != nil {
			return nil, fmt.Errorf("failed to unmarshal template: %w", err)
		}
		templates = append(templates, &tmpl)
	}
	return templates, nil
}

// queryAll paginates a single-partition index query
func (s *DynamoDBStore) queryAll(ctx context.Context, index, keyAttr, keyValue string, limit int) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	var lastEvaluatedKey map[string]types.AttributeValue

	for {
		input := &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			IndexName:              aws.String(index),
			KeyConditionExpression: aws.String(fmt.Sprintf("%s = :pk", keyAttr)),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": stringAttr(keyValue),
			},
		}
		if lastEvaluatedKey != nil {
			input.ExclusiveStartKey = lastEvaluatedKey
		}

		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, err
		}
		items = append(items, result.Items...)

		if limit > 0 && len(items) >= limit {
			return items[:limit], nil
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		lastEvaluatedKey = result.LastEvaluatedKey
	}
	return items, nil
}

var _ flowrun.Store = (*DynamoDBStore)(nil)

package aws

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling/types"

	"github.com/strata-io/strata/internal/ir"
	"github.com/strata-io/strata/internal/provider"
)

func (p *Provider) executeAutoScalingGroup(ctx context.Context, op *ir.Operation) (*provider.Result, error) {
	if op.Action == ir.ActionDestroy {
		_, err := p.autoscalingClient.DeleteAutoScalingGroup(ctx, &autoscaling.DeleteAutoScalingGroupInput{
			AutoScalingGroupName: ptr(op.Prior.ProviderID),
			ForceDelete:          ptr(true),
		})
		return nil, err
	}

	name, err := requireAttr(op.Desired, "name")
	if err != nil {
		return nil, err
	}
	minSize := intAttr(op.Desired, "min_size", 1)
	maxSize := intAttr(op.Desired, "max_size", minSize)
	desired := intAttr(op.Desired, "desired_capacity", minSize)

	var lt *types.LaunchTemplateSpecification
	if ltID := strAttr(op.Desired, "launch_template_id"); ltID != "" {
		lt = &types.LaunchTemplateSpecification{
			LaunchTemplateId: ptr(ltID),
			Version:          ptr("$Latest"),
		}
	}
	zoneIdent := strings.Join(strListAttr(op.Desired, "subnet_ids"), ",")

	if op.Action == ir.ActionUpdate {
		input := &autoscaling.UpdateAutoScalingGroupInput{
			AutoScalingGroupName: ptr(name),
			MinSize:              ptr(minSize),
			MaxSize:              ptr(maxSize),
			DesiredCapacity:      ptr(desired),
			LaunchTemplate:       lt,
		}
		if zoneIdent != "" {
			input.VPCZoneIdentifier = ptr(zoneIdent)
		}
		if _, err := p.autoscalingClient.UpdateAutoScalingGroup(ctx, input); err != nil {
			return nil, err
		}
		if err := p.attachTargetGroups(ctx, name, op); err != nil {
			return nil, err
		}
		return &provider.Result{
			ProviderID: name,
			Attributes: resultAttrs(op.Desired, map[string]any{"id": name}),
		}, nil
	}

	input := &autoscaling.CreateAutoScalingGroupInput{
		AutoScalingGroupName: ptr(name),
		MinSize:              ptr(minSize),
		MaxSize:              ptr(maxSize),
		DesiredCapacity:      ptr(desired),
		LaunchTemplate:       lt,
	}
	if zoneIdent != "" {
		input.VPCZoneIdentifier = ptr(zoneIdent)
	}
	if _, err := p.autoscalingClient.CreateAutoScalingGroup(ctx, input); err != nil {
		return nil, err
	}
	if err := p.attachTargetGroups(ctx, name, op); err != nil {
		return nil, err
	}

	// The group name is its identifier.
	return &provider.Result{
		ProviderID: name,
		Attributes: resultAttrs(op.Desired, map[string]any{"id": name}),
	}, nil
}

func (p *Provider) attachTargetGroups(ctx context.Context, name string, op *ir.Operation) error {
	arns := strListAttr(op.Desired, "target_group_arns")
	if len(arns) == 0 {
		return nil
	}
	_, err := p.autoscalingClient.AttachLoadBalancerTargetGroups(ctx, &autoscaling.AttachLoadBalancerTargetGroupsInput{
		AutoScalingGroupName: ptr(name),
		TargetGroupARNs:      arns,
	})
	return err
}

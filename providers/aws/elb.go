package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	"github.com/strata-io/strata/internal/ir"
	"github.com/strata-io/strata/internal/provider"
)

// executeLoadBalancer manages an ALB together with a default target
// group and listener, so an autoscaling group can attach by the
// target_group_arn attribute alone.
func (p *Provider) executeLoadBalancer(ctx context.Context, op *ir.Operation) (*provider.Result, error) {
	if op.Action == ir.ActionDestroy {
		return nil, p.destroyLoadBalancer(ctx, op)
	}
	if op.Action == ir.ActionUpdate {
		return p.updateLoadBalancer(ctx, op)
	}

	name, err := requireAttr(op.Desired, "name")
	if err != nil {
		return nil, err
	}
	subnets := strListAttr(op.Desired, "subnet_ids")
	if len(subnets) == 0 {
		return nil, fmt.Errorf("load-balancer needs subnet_ids")
	}

	scheme := types.LoadBalancerSchemeEnumInternetFacing
	if boolAttr(op.Desired, "internal") {
		scheme = types.LoadBalancerSchemeEnumInternal
	}
	input := &elasticloadbalancingv2.CreateLoadBalancerInput{
		Name:    ptr(name),
		Subnets: subnets,
		Scheme:  scheme,
		Type:    types.LoadBalancerTypeEnumApplication,
	}
	if groups := strListAttr(op.Desired, "security_policy_ids"); len(groups) > 0 {
		input.SecurityGroups = groups
	}
	resp, err := p.elbv2Client.CreateLoadBalancer(ctx, input)
	if err != nil {
		return nil, err
	}
	if len(resp.LoadBalancers) == 0 {
		return nil, fmt.Errorf("CreateLoadBalancer returned no load balancers")
	}
	lb := resp.LoadBalancers[0]
	arn := *lb.LoadBalancerArn

	port := intAttr(op.Desired, "port", 80)
	vpcID, err := requireAttr(op.Desired, "network_id")
	if err != nil {
		return nil, err
	}
	tgResp, err := p.elbv2Client.CreateTargetGroup(ctx, &elasticloadbalancingv2.CreateTargetGroupInput{
		Name:     ptr(name + "-tg"),
		Port:     ptr(port),
		Protocol: types.ProtocolEnumHttp,
		VpcId:    ptr(vpcID),
	})
	if err != nil {
		return nil, err
	}
	if len(tgResp.TargetGroups) == 0 {
		return nil, fmt.Errorf("CreateTargetGroup returned no target groups")
	}
	tgARN := *tgResp.TargetGroups[0].TargetGroupArn

	_, err = p.elbv2Client.CreateListener(ctx, &elasticloadbalancingv2.CreateListenerInput{
		LoadBalancerArn: ptr(arn),
		Port:            ptr(port),
		Protocol:        types.ProtocolEnumHttp,
		DefaultActions: []types.Action{{
			Type:           types.ActionTypeEnumForward,
			TargetGroupArn: ptr(tgARN),
		}},
	})
	if err != nil {
		return nil, err
	}

	computed := map[string]any{
		"id":               arn,
		"arn":              arn,
		"target_group_arn": tgARN,
	}
	if lb.DNSName != nil {
		computed["dns_name"] = *lb.DNSName
	}
	return &provider.Result{
		ProviderID: arn,
		Attributes: resultAttrs(op.Desired, computed),
	}, nil
}

func (p *Provider) updateLoadBalancer(ctx context.Context, op *ir.Operation) (*provider.Result, error) {
	arn := op.Prior.ProviderID

	if subnets := strListAttr(op.Desired, "subnet_ids"); len(subnets) > 0 {
		_, err := p.elbv2Client.SetSubnets(ctx, &elasticloadbalancingv2.SetSubnetsInput{
			LoadBalancerArn: ptr(arn),
			Subnets:         subnets,
		})
		if err != nil {
			return nil, err
		}
	}
	if groups := strListAttr(op.Desired, "security_policy_ids"); len(groups) > 0 {
		_, err := p.elbv2Client.SetSecurityGroups(ctx, &elasticloadbalancingv2.SetSecurityGroupsInput{
			LoadBalancerArn: ptr(arn),
			SecurityGroups:  groups,
		})
		if err != nil {
			return nil, err
		}
	}

	// Carry the computed attributes forward from the prior record.
	computed := map[string]any{"id": arn, "arn": arn}
	for _, name := range []string{"dns_name", "target_group_arn"} {
		if v, ok := op.Prior.Attributes[name]; ok {
			computed[name] = v
		}
	}
	return &provider.Result{
		ProviderID: arn,
		Attributes: resultAttrs(op.Desired, computed),
	}, nil
}

func (p *Provider) destroyLoadBalancer(ctx context.Context, op *ir.Operation) error {
	arn := op.Prior.ProviderID
	_, err := p.elbv2Client.DeleteLoadBalancer(ctx, &elasticloadbalancingv2.DeleteLoadBalancerInput{
		LoadBalancerArn: ptr(arn),
	})
	if err != nil {
		return err
	}
	if tgARN, _ := op.Prior.Attributes["target_group_arn"].(string); tgARN != "" {
		_, err = p.elbv2Client.DeleteTargetGroup(ctx, &elasticloadbalancingv2.DeleteTargetGroupInput{
			TargetGroupArn: ptr(tgARN),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/strata-io/strata/internal/ir"
	"github.com/strata-io/strata/internal/provider"
)

// resultAttrs merges the resolved desired attributes with the values
// only the API can produce (the id, generated names).
func resultAttrs(desired map[string]any, computed map[string]any) map[string]any {
	attrs := make(map[string]any, len(desired)+len(computed))
	for k, v := range desired {
		attrs[k] = v
	}
	for k, v := range computed {
		attrs[k] = v
	}
	return attrs
}

func (p *Provider) tagName(ctx context.Context, id, name string) {
	if name == "" {
		return
	}
	// Tagging is best effort; the resource exists either way.
	_, _ = p.ec2Client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{id},
		Tags:      []types.Tag{{Key: ptr("Name"), Value: ptr(name)}},
	})
}

func (p *Provider) executeNetwork(ctx context.Context, op *ir.Operation) (*provider.Result, error) {
	if op.Action == ir.ActionDestroy {
		_, err := p.ec2Client.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: ptr(op.Prior.ProviderID)})
		return nil, err
	}
	if op.Action == ir.ActionUpdate {
		return p.updateNetwork(ctx, op)
	}

	cidr, err := requireAttr(op.Desired, "cidr_block")
	if err != nil {
		return nil, err
	}
	resp, err := p.ec2Client.CreateVpc(ctx, &ec2.CreateVpcInput{CidrBlock: ptr(cidr)})
	if err != nil {
		return nil, err
	}
	id := *resp.Vpc.VpcId
	p.tagName(ctx, id, strAttr(op.Desired, "name"))

	if boolAttr(op.Desired, "enable_dns_hostnames") {
		_, err = p.ec2Client.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
			VpcId:              ptr(id),
			EnableDnsHostnames: &types.AttributeBooleanValue{Value: ptr(true)},
		})
		if err != nil {
			return nil, err
		}
	}

	return &provider.Result{
		ProviderID: id,
		Attributes: resultAttrs(op.Desired, map[string]any{"id": id}),
	}, nil
}

func (p *Provider) updateNetwork(ctx context.Context, op *ir.Operation) (*provider.Result, error) {
	id := op.Prior.ProviderID
	_, err := p.ec2Client.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
		VpcId:              ptr(id),
		EnableDnsHostnames: &types.AttributeBooleanValue{Value: ptr(boolAttr(op.Desired, "enable_dns_hostnames"))},
	})
	if err != nil {
		return nil, err
	}
	p.tagName(ctx, id, strAttr(op.Desired, "name"))
	return &provider.Result{
		ProviderID: id,
		Attributes: resultAttrs(op.Desired, map[string]any{"id": id}),
	}, nil
}

func (p *Provider) executeSubnet(ctx context.Context, op *ir.Operation) (*provider.Result, error) {
	if op.Action == ir.ActionDestroy {
		_, err := p.ec2Client.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: ptr(op.Prior.ProviderID)})
		return nil, err
	}

	if op.Action == ir.ActionUpdate {
		id := op.Prior.ProviderID
		_, err := p.ec2Client.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
			SubnetId:            ptr(id),
			MapPublicIpOnLaunch: &types.AttributeBooleanValue{Value: ptr(boolAttr(op.Desired, "map_public_ip"))},
		})
		if err != nil {
			return nil, err
		}
		p.tagName(ctx, id, strAttr(op.Desired, "name"))
		return &provider.Result{
			ProviderID: id,
			Attributes: resultAttrs(op.Desired, map[string]any{"id": id}),
		}, nil
	}

	vpcID, err := requireAttr(op.Desired, "network_id")
	if err != nil {
		return nil, err
	}
	cidr, err := requireAttr(op.Desired, "cidr_block")
	if err != nil {
		return nil, err
	}
	input := &ec2.CreateSubnetInput{
		VpcId:     ptr(vpcID),
		CidrBlock: ptr(cidr),
	}
	if az := strAttr(op.Desired, "availability_zone"); az != "" {
		input.AvailabilityZone = ptr(az)
	}
	resp, err := p.ec2Client.CreateSubnet(ctx, input)
	if err != nil {
		return nil, err
	}
	id := *resp.Subnet.SubnetId
	p.tagName(ctx, id, strAttr(op.Desired, "name"))

	if boolAttr(op.Desired, "map_public_ip") {
		_, err = p.ec2Client.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
			SubnetId:            ptr(id),
			MapPublicIpOnLaunch: &types.AttributeBooleanValue{Value: ptr(true)},
		})
		if err != nil {
			return nil, err
		}
	}

	return &provider.Result{
		ProviderID: id,
		Attributes: resultAttrs(op.Desired, map[string]any{"id": id}),
	}, nil
}

func (p *Provider) executeInternetGateway(ctx context.Context, op *ir.Operation) (*provider.Result, error) {
	if op.Action == ir.ActionDestroy {
		id := op.Prior.ProviderID
		if vpcID, _ := op.Prior.Attributes["network_id"].(string); vpcID != "" {
			_, err := p.ec2Client.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
				InternetGatewayId: ptr(id),
				VpcId:             ptr(vpcID),
			})
			if err != nil {
				return nil, err
			}
		}
		_, err := p.ec2Client.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{InternetGatewayId: ptr(id)})
		return nil, err
	}
	if op.Action == ir.ActionUpdate {
		id := op.Prior.ProviderID
		p.tagName(ctx, id, strAttr(op.Desired, "name"))
		return &provider.Result{
			ProviderID: id,
			Attributes: resultAttrs(op.Desired, map[string]any{"id": id}),
		}, nil
	}

	vpcID, err := requireAttr(op.Desired, "network_id")
	if err != nil {
		return nil, err
	}
	resp, err := p.ec2Client.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{})
	if err != nil {
		return nil, err
	}
	id := *resp.InternetGateway.InternetGatewayId
	_, err = p.ec2Client.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
		InternetGatewayId: ptr(id),
		VpcId:             ptr(vpcID),
	})
	if err != nil {
		return nil, err
	}
	p.tagName(ctx, id, strAttr(op.Desired, "name"))

	return &provider.Result{
		ProviderID: id,
		Attributes: resultAttrs(op.Desired, map[string]any{"id": id}),
	}, nil
}

func (p *Provider) executeRouteTable(ctx context.Context, op *ir.Operation) (*provider.Result, error) {
	if op.Action == ir.ActionDestroy {
		_, err := p.ec2Client.DeleteRouteTable(ctx, &ec2.DeleteRouteTableInput{RouteTableId: ptr(op.Prior.ProviderID)})
		return nil, err
	}

	var id string
	if op.Action == ir.ActionUpdate {
		id = op.Prior.ProviderID
	} else {
		vpcID, err := requireAttr(op.Desired, "network_id")
		if err != nil {
			return nil, err
		}
		resp, err := p.ec2Client.CreateRouteTable(ctx, &ec2.CreateRouteTableInput{VpcId: ptr(vpcID)})
		if err != nil {
			return nil, err
		}
		id = *resp.RouteTable.RouteTableId
		p.tagName(ctx, id, strAttr(op.Desired, "name"))
	}

	for _, route := range listOfMaps(op.Desired, "route") {
		cidr := strAttr(route, "cidr_block")
		gw := strAttr(route, "gateway_id")
		if cidr == "" || gw == "" {
			return nil, fmt.Errorf("route needs cidr_block and gateway_id")
		}
		input := &ec2.CreateRouteInput{
			RouteTableId:         ptr(id),
			DestinationCidrBlock: ptr(cidr),
			GatewayId:            ptr(gw),
		}
		if _, err := p.ec2Client.CreateRoute(ctx, input); err != nil {
			// On update the destination may already exist; converge it.
			_, rerr := p.ec2Client.ReplaceRoute(ctx, &ec2.ReplaceRouteInput{
				RouteTableId:         ptr(id),
				DestinationCidrBlock: ptr(cidr),
				GatewayId:            ptr(gw),
			})
			if rerr != nil {
				return nil, err
			}
		}
	}

	return &provider.Result{
		ProviderID: id,
		Attributes: resultAttrs(op.Desired, map[string]any{"id": id}),
	}, nil
}

func (p *Provider) executeRouteTableAssociation(ctx context.Context, op *ir.Operation) (*provider.Result, error) {
	if op.Action == ir.ActionDestroy {
		_, err := p.ec2Client.DisassociateRouteTable(ctx, &ec2.DisassociateRouteTableInput{
			AssociationId: ptr(op.Prior.ProviderID),
		})
		return nil, err
	}

	rtID, err := requireAttr(op.Desired, "route_table_id")
	if err != nil {
		return nil, err
	}
	subnetID, err := requireAttr(op.Desired, "subnet_id")
	if err != nil {
		return nil, err
	}
	resp, err := p.ec2Client.AssociateRouteTable(ctx, &ec2.AssociateRouteTableInput{
		RouteTableId: ptr(rtID),
		SubnetId:     ptr(subnetID),
	})
	if err != nil {
		return nil, err
	}
	id := *resp.AssociationId
	return &provider.Result{
		ProviderID: id,
		Attributes: resultAttrs(op.Desired, map[string]any{"id": id}),
	}, nil
}

func (p *Provider) executeSecurityPolicy(ctx context.Context, op *ir.Operation) (*provider.Result, error) {
	if op.Action == ir.ActionDestroy {
		_, err := p.ec2Client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: ptr(op.Prior.ProviderID)})
		return nil, err
	}

	var id string
	if op.Action == ir.ActionUpdate {
		id = op.Prior.ProviderID
	} else {
		name, err := requireAttr(op.Desired, "name")
		if err != nil {
			return nil, err
		}
		vpcID, err := requireAttr(op.Desired, "network_id")
		if err != nil {
			return nil, err
		}
		desc := strAttr(op.Desired, "description")
		if desc == "" {
			desc = name
		}
		resp, err := p.ec2Client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
			GroupName:   ptr(name),
			Description: ptr(desc),
			VpcId:       ptr(vpcID),
		})
		if err != nil {
			return nil, err
		}
		id = *resp.GroupId
	}

	if perms := ipPermissions(listOfMaps(op.Desired, "ingress")); len(perms) > 0 {
		_, err := p.ec2Client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       ptr(id),
			IpPermissions: perms,
		})
		if err != nil && !isDuplicateRule(err) {
			return nil, err
		}
	}
	if perms := ipPermissions(listOfMaps(op.Desired, "egress")); len(perms) > 0 {
		_, err := p.ec2Client.AuthorizeSecurityGroupEgress(ctx, &ec2.AuthorizeSecurityGroupEgressInput{
			GroupId:       ptr(id),
			IpPermissions: perms,
		})
		if err != nil && !isDuplicateRule(err) {
			return nil, err
		}
	}

	return &provider.Result{
		ProviderID: id,
		Attributes: resultAttrs(op.Desired, map[string]any{"id": id}),
	}, nil
}

func ipPermissions(rules []map[string]any) []types.IpPermission {
	perms := make([]types.IpPermission, 0, len(rules))
	for _, rule := range rules {
		perm := types.IpPermission{
			IpProtocol: ptr(strAttr(rule, "protocol")),
			FromPort:   ptr(intAttr(rule, "from_port", 0)),
			ToPort:     ptr(intAttr(rule, "to_port", 0)),
		}
		for _, cidr := range strListAttr(rule, "cidr_blocks") {
			perm.IpRanges = append(perm.IpRanges, types.IpRange{CidrIp: ptr(cidr)})
		}
		perms = append(perms, perm)
	}
	return perms
}

func (p *Provider) executeComputeInstance(ctx context.Context, op *ir.Operation) (*provider.Result, error) {
	if op.Action == ir.ActionDestroy {
		_, err := p.ec2Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
			InstanceIds: []string{op.Prior.ProviderID},
		})
		return nil, err
	}

	if op.Action == ir.ActionUpdate {
		id := op.Prior.ProviderID
		if itype := strAttr(op.Desired, "instance_type"); itype != "" {
			_, err := p.ec2Client.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
				InstanceId:   ptr(id),
				InstanceType: &types.AttributeValue{Value: ptr(itype)},
			})
			if err != nil {
				return nil, err
			}
		}
		p.tagName(ctx, id, strAttr(op.Desired, "name"))
		return &provider.Result{
			ProviderID: id,
			Attributes: resultAttrs(op.Desired, map[string]any{"id": id}),
		}, nil
	}

	image, err := requireAttr(op.Desired, "image")
	if err != nil {
		return nil, err
	}
	input := &ec2.RunInstancesInput{
		ImageId:  ptr(image),
		MinCount: ptr(int32(1)),
		MaxCount: ptr(int32(1)),
	}
	if itype := strAttr(op.Desired, "instance_type"); itype != "" {
		input.InstanceType = types.InstanceType(itype)
	}
	if subnet := strAttr(op.Desired, "subnet_id"); subnet != "" {
		input.SubnetId = ptr(subnet)
	}
	if key := strAttr(op.Desired, "key_name"); key != "" {
		input.KeyName = ptr(key)
	}
	if groups := strListAttr(op.Desired, "security_policy_ids"); len(groups) > 0 {
		input.SecurityGroupIds = groups
	}
	resp, err := p.ec2Client.RunInstances(ctx, input)
	if err != nil {
		return nil, err
	}
	if len(resp.Instances) == 0 {
		return nil, fmt.Errorf("RunInstances returned no instances")
	}
	inst := resp.Instances[0]
	id := *inst.InstanceId
	p.tagName(ctx, id, strAttr(op.Desired, "name"))

	computed := map[string]any{"id": id}
	if inst.PrivateIpAddress != nil {
		computed["private_ip"] = *inst.PrivateIpAddress
	}
	return &provider.Result{
		ProviderID: id,
		Attributes: resultAttrs(op.Desired, computed),
	}, nil
}

func (p *Provider) executeLaunchTemplate(ctx context.Context, op *ir.Operation) (*provider.Result, error) {
	if op.Action == ir.ActionDestroy {
		_, err := p.ec2Client.DeleteLaunchTemplate(ctx, &ec2.DeleteLaunchTemplateInput{
			LaunchTemplateId: ptr(op.Prior.ProviderID),
		})
		return nil, err
	}

	data := &types.RequestLaunchTemplateData{}
	if image := strAttr(op.Desired, "image"); image != "" {
		data.ImageId = ptr(image)
	}
	if itype := strAttr(op.Desired, "instance_type"); itype != "" {
		data.InstanceType = types.InstanceType(itype)
	}
	if key := strAttr(op.Desired, "key_name"); key != "" {
		data.KeyName = ptr(key)
	}
	if groups := strListAttr(op.Desired, "security_policy_ids"); len(groups) > 0 {
		data.SecurityGroupIds = groups
	}

	if op.Action == ir.ActionUpdate {
		// New version, then promote it to default.
		id := op.Prior.ProviderID
		vresp, err := p.ec2Client.CreateLaunchTemplateVersion(ctx, &ec2.CreateLaunchTemplateVersionInput{
			LaunchTemplateId:   ptr(id),
			LaunchTemplateData: data,
		})
		if err != nil {
			return nil, err
		}
		version := fmt.Sprintf("%d", *vresp.LaunchTemplateVersion.VersionNumber)
		_, err = p.ec2Client.ModifyLaunchTemplate(ctx, &ec2.ModifyLaunchTemplateInput{
			LaunchTemplateId: ptr(id),
			DefaultVersion:   ptr(version),
		})
		if err != nil {
			return nil, err
		}
		return &provider.Result{
			ProviderID: id,
			Attributes: resultAttrs(op.Desired, map[string]any{"id": id, "latest_version": version}),
		}, nil
	}

	name, err := requireAttr(op.Desired, "name")
	if err != nil {
		return nil, err
	}
	resp, err := p.ec2Client.CreateLaunchTemplate(ctx, &ec2.CreateLaunchTemplateInput{
		LaunchTemplateName: ptr(name),
		LaunchTemplateData: data,
	})
	if err != nil {
		return nil, err
	}
	id := *resp.LaunchTemplate.LaunchTemplateId
	return &provider.Result{
		ProviderID: id,
		Attributes: resultAttrs(op.Desired, map[string]any{"id": id, "latest_version": "1"}),
	}, nil
}

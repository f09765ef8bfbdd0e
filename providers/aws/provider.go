// Package aws provisions the AWS-backed resource types: VPC networking,
// EC2 compute, load balancing, autoscaling, S3 buckets, and CloudFront
// distributions.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/strata-io/strata/internal/ir"
	"github.com/strata-io/strata/internal/provider"
)

type Provider struct {
	region string

	ec2Client         *ec2.Client
	elbv2Client       *elasticloadbalancingv2.Client
	autoscalingClient *autoscaling.Client
	s3Client          *s3.Client
	cloudfrontClient  *cloudfront.Client
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Configure(ctx context.Context, settings map[string]string) error {
	p.region = settings["region"]
	if p.region == "" {
		return fmt.Errorf("aws provider requires a region")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(p.region)}
	if profile := settings["profile"]; profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	p.ec2Client = ec2.NewFromConfig(cfg)
	p.elbv2Client = elasticloadbalancingv2.NewFromConfig(cfg)
	p.autoscalingClient = autoscaling.NewFromConfig(cfg)
	p.s3Client = s3.NewFromConfig(cfg)
	p.cloudfrontClient = cloudfront.NewFromConfig(cfg)
	return nil
}

// schemas lists, per resource type, the attributes that cannot change
// in place and so force a replacement.
var schemas = map[string]provider.Schema{
	"network":                 {Immutable: []string{"cidr_block"}},
	"subnet":                  {Immutable: []string{"network_id", "cidr_block", "availability_zone"}},
	"internet-gateway":        {Immutable: []string{"network_id"}},
	"route-table":             {Immutable: []string{"network_id"}},
	"route-table-association": {Immutable: []string{"route_table_id", "subnet_id"}},
	"security-policy":         {Immutable: []string{"name", "description", "network_id"}},
	"compute-instance":        {Immutable: []string{"image", "subnet_id", "key_name"}},
	"launch-template":         {Immutable: []string{"name"}},
	"autoscaling-group":       {Immutable: []string{"name"}},
	"load-balancer":           {Immutable: []string{"name", "internal"}},
	"object-store-bucket":     {Immutable: []string{"name"}},
	"cdn-distribution":        {Immutable: []string{"origin_domain_name"}},
}

func (p *Provider) Schema(resourceType string) provider.Schema {
	return schemas[resourceType]
}

func (p *Provider) Execute(ctx context.Context, op *ir.Operation) (*provider.Result, error) {
	var (
		res *provider.Result
		err error
	)
	switch op.Type {
	case "network":
		res, err = p.executeNetwork(ctx, op)
	case "subnet":
		res, err = p.executeSubnet(ctx, op)
	case "internet-gateway":
		res, err = p.executeInternetGateway(ctx, op)
	case "route-table":
		res, err = p.executeRouteTable(ctx, op)
	case "route-table-association":
		res, err = p.executeRouteTableAssociation(ctx, op)
	case "security-policy":
		res, err = p.executeSecurityPolicy(ctx, op)
	case "compute-instance":
		res, err = p.executeComputeInstance(ctx, op)
	case "launch-template":
		res, err = p.executeLaunchTemplate(ctx, op)
	case "autoscaling-group":
		res, err = p.executeAutoScalingGroup(ctx, op)
	case "load-balancer":
		res, err = p.executeLoadBalancer(ctx, op)
	case "object-store-bucket":
		res, err = p.executeBucket(ctx, op)
	case "cdn-distribution":
		res, err = p.executeDistribution(ctx, op)
	default:
		return nil, provider.Permanent(op.Key.String(), fmt.Errorf("unknown resource type %q", op.Type))
	}
	if err != nil {
		return nil, classify(fmt.Sprintf("%s %s", op.Action, op.Key), err)
	}
	return res, nil
}

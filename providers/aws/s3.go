package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/strata-io/strata/internal/ir"
	"github.com/strata-io/strata/internal/provider"
)

func (p *Provider) executeBucket(ctx context.Context, op *ir.Operation) (*provider.Result, error) {
	if op.Action == ir.ActionDestroy {
		_, err := p.s3Client.DeleteBucket(ctx, &s3.DeleteBucketInput{
			Bucket: ptr(op.Prior.ProviderID),
		})
		return nil, err
	}

	name, err := requireAttr(op.Desired, "name")
	if err != nil {
		return nil, err
	}

	if op.Action == ir.ActionCreate {
		input := &s3.CreateBucketInput{Bucket: ptr(name)}
		// us-east-1 rejects an explicit location constraint.
		if p.region != "us-east-1" {
			input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
				LocationConstraint: types.BucketLocationConstraint(p.region),
			}
		}
		if _, err := p.s3Client.CreateBucket(ctx, input); err != nil {
			return nil, err
		}
	}

	status := types.BucketVersioningStatusSuspended
	if boolAttr(op.Desired, "versioning") {
		status = types.BucketVersioningStatusEnabled
	}
	_, err = p.s3Client.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket: ptr(name),
		VersioningConfiguration: &types.VersioningConfiguration{
			Status: status,
		},
	})
	if err != nil {
		return nil, err
	}

	computed := map[string]any{
		"id":                   name,
		"regional_domain_name": fmt.Sprintf("%s.s3.%s.amazonaws.com", name, p.region),
	}
	return &provider.Result{
		ProviderID: name,
		Attributes: resultAttrs(op.Desired, computed),
	}, nil
}

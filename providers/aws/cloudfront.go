package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"

	"github.com/strata-io/strata/internal/ir"
	"github.com/strata-io/strata/internal/provider"
)

func (p *Provider) executeDistribution(ctx context.Context, op *ir.Operation) (*provider.Result, error) {
	switch op.Action {
	case ir.ActionDestroy:
		return nil, p.destroyDistribution(ctx, op)
	case ir.ActionUpdate:
		return p.updateDistribution(ctx, op)
	}

	originDomain, err := requireAttr(op.Desired, "origin_domain_name")
	if err != nil {
		return nil, err
	}
	cfg := p.distributionConfig(op.Desired, originDomain)
	cfg.CallerReference = ptr(fmt.Sprintf("strata-%s-%d", op.Key, time.Now().UnixNano()))

	resp, err := p.cloudfrontClient.CreateDistribution(ctx, &cloudfront.CreateDistributionInput{
		DistributionConfig: cfg,
	})
	if err != nil {
		return nil, err
	}

	id := *resp.Distribution.Id
	computed := map[string]any{
		"id":          id,
		"arn":         *resp.Distribution.ARN,
		"domain_name": *resp.Distribution.DomainName,
		"etag":        *resp.ETag,
	}
	return &provider.Result{
		ProviderID: id,
		Attributes: resultAttrs(op.Desired, computed),
	}, nil
}

func (p *Provider) updateDistribution(ctx context.Context, op *ir.Operation) (*provider.Result, error) {
	id := op.Prior.ProviderID
	current, err := p.cloudfrontClient.GetDistributionConfig(ctx, &cloudfront.GetDistributionConfigInput{
		Id: ptr(id),
	})
	if err != nil {
		return nil, err
	}

	originDomain, err := requireAttr(op.Desired, "origin_domain_name")
	if err != nil {
		return nil, err
	}
	cfg := p.distributionConfig(op.Desired, originDomain)
	cfg.CallerReference = current.DistributionConfig.CallerReference

	resp, err := p.cloudfrontClient.UpdateDistribution(ctx, &cloudfront.UpdateDistributionInput{
		Id:                 ptr(id),
		IfMatch:            current.ETag,
		DistributionConfig: cfg,
	})
	if err != nil {
		return nil, err
	}

	computed := map[string]any{
		"id":          id,
		"arn":         *resp.Distribution.ARN,
		"domain_name": *resp.Distribution.DomainName,
		"etag":        *resp.ETag,
	}
	return &provider.Result{
		ProviderID: id,
		Attributes: resultAttrs(op.Desired, computed),
	}, nil
}

// destroyDistribution disables the distribution first; CloudFront only
// deletes disabled, fully deployed distributions.
func (p *Provider) destroyDistribution(ctx context.Context, op *ir.Operation) error {
	id := op.Prior.ProviderID
	current, err := p.cloudfrontClient.GetDistributionConfig(ctx, &cloudfront.GetDistributionConfigInput{
		Id: ptr(id),
	})
	if err != nil {
		return err
	}

	etag := current.ETag
	if current.DistributionConfig.Enabled != nil && *current.DistributionConfig.Enabled {
		current.DistributionConfig.Enabled = ptr(false)
		resp, err := p.cloudfrontClient.UpdateDistribution(ctx, &cloudfront.UpdateDistributionInput{
			Id:                 ptr(id),
			IfMatch:            etag,
			DistributionConfig: current.DistributionConfig,
		})
		if err != nil {
			return err
		}
		etag = resp.ETag
	}

	_, err = p.cloudfrontClient.DeleteDistribution(ctx, &cloudfront.DeleteDistributionInput{
		Id:      ptr(id),
		IfMatch: etag,
	})
	if err != nil {
		// Disabling has to deploy before deletion is accepted; let the
		// engine's backoff ride that out.
		return provider.Transient(op.Key.String(), err)
	}
	return nil
}

func (p *Provider) distributionConfig(desired map[string]any, originDomain string) *types.DistributionConfig {
	originID := strAttr(desired, "origin_id")
	if originID == "" {
		originID = "primary"
	}
	comment := strAttr(desired, "comment")
	if comment == "" {
		comment = "managed by strata"
	}

	enabled := true
	if _, ok := desired["enabled"]; ok {
		enabled = boolAttr(desired, "enabled")
	}

	return &types.DistributionConfig{
		Enabled: ptr(enabled),
		Comment: ptr(comment),
		Origins: &types.Origins{
			Quantity: ptr(int32(1)),
			Items: []types.Origin{{
				Id:         ptr(originID),
				DomainName: ptr(originDomain),
				CustomOriginConfig: &types.CustomOriginConfig{
					HTTPPort:             ptr(int32(80)),
					HTTPSPort:            ptr(int32(443)),
					OriginProtocolPolicy: types.OriginProtocolPolicyHttpOnly,
				},
			}},
		},
		DefaultCacheBehavior: &types.DefaultCacheBehavior{
			TargetOriginId:       ptr(originID),
			ViewerProtocolPolicy: types.ViewerProtocolPolicyRedirectToHttps,
			MinTTL:               ptr(int64(0)),
			ForwardedValues: &types.ForwardedValues{
				QueryString: ptr(false),
				Cookies: &types.CookiePreference{
					Forward: types.ItemSelectionNone,
				},
			},
			TrustedSigners: &types.TrustedSigners{
				Enabled:  ptr(false),
				Quantity: ptr(int32(0)),
			},
		},
	}
}

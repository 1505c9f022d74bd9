package provision

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// StackTag is the tag key carrying the stack name.
const StackTag = "stack_name"

// createTagsBatch is the largest resource list CreateTags accepts.
const createTagsBatch = 1000

// InstanceTagger tags every live instance launched with keyPair.
type InstanceTagger interface {
	TagInstances(ctx context.Context, keyPair, key, value string) (int, error)
}

// EC2API is the part of the EC2 client the tagger uses.
type EC2API interface {
	ec2.DescribeInstancesAPIClient
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
}

type EC2Tagger struct {
	client EC2API
}

func NewEC2Tagger(client EC2API) *EC2Tagger {
	return &EC2Tagger{client: client}
}

// NewEC2TaggerFromConfig builds a tagger for region using the access key
// pair from the eggo config, falling back to the default credential chain
// when the pair is empty.
func NewEC2TaggerFromConfig(ctx context.Context, region, accessKeyID, secretAccessKey string) (*EC2Tagger, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewEC2Tagger(ec2.NewFromConfig(cfg)), nil
}

func (t *EC2Tagger) TagInstances(ctx context.Context, keyPair, key, value string) (int, error) {
	ids, err := t.instanceIDs(ctx, keyPair)
	if err != nil {
		return 0, err
	}
	for start := 0; start < len(ids); start += createTagsBatch {
		end := min(start+createTagsBatch, len(ids))
		_, err := t.client.CreateTags(ctx, &ec2.CreateTagsInput{
			Resources: ids[start:end],
			Tags:      []types.Tag{{Key: aws.String(key), Value: aws.String(value)}},
		})
		if err != nil {
			return start, fmt.Errorf("create tags: %w", err)
		}
	}
	return len(ids), nil
}

func (t *EC2Tagger) instanceIDs(ctx context.Context, keyPair string) ([]string, error) {
	input := &ec2.DescribeInstancesInput{
		Filters: []types.Filter{
			{Name: aws.String("key-name"), Values: []string{keyPair}},
			{Name: aws.String("instance-state-name"), Values: []string{"pending", "running", "stopping", "stopped"}},
		},
	}
	var ids []string
	p := ec2.NewDescribeInstancesPaginator(t.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}
		for _, r := range page.Reservations {
			for _, inst := range r.Instances {
				if inst.InstanceId != nil {
					ids = append(ids, *inst.InstanceId)
				}
			}
		}
	}
	return ids, nil
}

package drivers

import (
	"github.com/sloonz/shelvery/awsutil"
	"github.com/sloonz/shelvery/lib"

	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/sirupsen/logrus"
)

var (
	ebsLog = logrus.WithFields(logrus.Fields{
		"driver": "ebs",
	})
)

type EC2API interface {
	DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	DescribeSnapshots(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error)
	CreateSnapshot(ctx context.Context, params *ec2.CreateSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.CreateSnapshotOutput, error)
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
	DeleteSnapshot(ctx context.Context, params *ec2.DeleteSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSnapshotOutput, error)
	CopySnapshot(ctx context.Context, params *ec2.CopySnapshotInput, optFns ...func(*ec2.Options)) (*ec2.CopySnapshotOutput, error)
	ModifySnapshotAttribute(ctx context.Context, params *ec2.ModifySnapshotAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifySnapshotAttributeOutput, error)
}

// Returns the EC2 client of a region
type EC2Clients func(region string) EC2API

// One client per region, built from cfg
func NewEC2Clients(cfg aws.Config) EC2Clients {
	var clients sync.Map
	return func(region string) EC2API {
		if c, ok := clients.Load(region); ok {
			return c.(EC2API)
		}
		c, _ := clients.LoadOrStore(region, ec2.NewFromConfig(cfg, func(o *ec2.Options) {
			if region != "" {
				o.Region = region
			}
		}))
		return c.(EC2API)
	}
}

// Backs up EBS volumes as EC2 snapshots
type EBS struct {
	clients   EC2Clients
	region    string
	tagPrefix string
}

func NewEBS(clients EC2Clients, region, tagPrefix string) *EBS {
	return &EBS{clients: clients, region: region, tagPrefix: tagPrefix}
}

func (d *EBS) client(region string) EC2API {
	if region == "" {
		region = d.region
	}
	return d.clients(region)
}

func toTags(tags map[string]string) []ec2types.Tag {
	res := make([]ec2types.Tag, 0, len(tags))
	for k, v := range tags {
		res = append(res, ec2types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return res
}

func fromTags(tags []ec2types.Tag) map[string]string {
	res := make(map[string]string, len(tags))
	for _, t := range tags {
		res[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return res
}

// Part of shelvery.Driver interface
func (d *EBS) Kind() shelvery.ResourceKind {
	return shelvery.KindEBS
}

// Part of shelvery.Driver interface
func (d *EBS) EntitiesTagged(ctx context.Context, tagName string) ([]shelvery.EntityResource, error) {
	var entities []shelvery.EntityResource
	input := &ec2.DescribeVolumesInput{
		Filters: []ec2types.Filter{{Name: aws.String("tag-key"), Values: []string{tagName}}},
	}

	for {
		out, err := d.client("").DescribeVolumes(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("cannot describe volumes: %w", err)
		}

		for _, vol := range out.Volumes {
			entities = append(entities, shelvery.EntityResource{
				ID:          aws.ToString(vol.VolumeId),
				Region:      d.region,
				DateCreated: aws.ToTime(vol.CreateTime),
				Tags:        fromTags(vol.Tags),
			})
		}

		if aws.ToString(out.NextToken) == "" {
			return entities, nil
		}
		input.NextToken = out.NextToken
	}
}

// Part of shelvery.Driver interface
func (d *EBS) Backup(ctx context.Context, r *shelvery.BackupRecord) (*shelvery.BackupRecord, error) {
	out, err := d.client(r.Region).CreateSnapshot(ctx, &ec2.CreateSnapshotInput{
		VolumeId:    aws.String(r.EntityID),
		Description: aws.String(r.Name),
	})
	if err != nil {
		if awsutil.ErrorCode(err) == "IncorrectState" {
			return nil, fmt.Errorf("volume %s: %w", r.EntityID, shelvery.ErrResourceBusy)
		}
		return nil, fmt.Errorf("cannot snapshot %s: %w", r.EntityID, err)
	}

	ebsLog.WithFields(logrus.Fields{"volume": r.EntityID, "snapshot": aws.ToString(out.SnapshotId)}).Debug("snapshot started")
	return r.WithBackupID(aws.ToString(out.SnapshotId)), nil
}

// Part of shelvery.Driver interface
func (d *EBS) Tag(ctx context.Context, r *shelvery.BackupRecord) error {
	_, err := d.client(r.Region).CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{r.BackupID},
		Tags:      toTags(r.Tags),
	})
	if err != nil {
		return fmt.Errorf("cannot tag %s: %w", r.BackupID, err)
	}
	return nil
}

// Part of shelvery.Driver interface
func (d *EBS) Delete(ctx context.Context, r *shelvery.BackupRecord) error {
	_, err := d.client(r.Region).DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{SnapshotId: aws.String(r.BackupID)})
	if err != nil {
		return fmt.Errorf("cannot delete %s: %w", r.BackupID, err)
	}
	return nil
}

// Part of shelvery.Driver interface
func (d *EBS) ExistingBackups(ctx context.Context, tagPrefix string) ([]*shelvery.BackupRecord, error) {
	var backups []*shelvery.BackupRecord
	input := &ec2.DescribeSnapshotsInput{
		OwnerIds: []string{"self"},
		Filters:  []ec2types.Filter{{Name: aws.String("tag:" + shelvery.MarkerTag(tagPrefix)), Values: []string{"true"}}},
	}

	for {
		out, err := d.client("").DescribeSnapshots(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("cannot describe snapshots: %w", err)
		}

		for _, snap := range out.Snapshots {
			r, err := shelvery.RecordFromTags(tagPrefix, aws.ToString(snap.SnapshotId), fromTags(snap.Tags))
			if err != nil {
				ebsLog.WithFields(logrus.Fields{"snapshot": aws.ToString(snap.SnapshotId)}).Warnf("ignoring snapshot: %v", err)
				continue
			}
			if r.Region == "" {
				r.Region = d.region
			}
			backups = append(backups, r)
		}

		if aws.ToString(out.NextToken) == "" {
			shelvery.SortRecords(backups)
			return backups, nil
		}
		input.NextToken = out.NextToken
	}
}

func (d *EBS) describe(ctx context.Context, region, id string) (*ec2types.Snapshot, error) {
	out, err := d.client(region).DescribeSnapshots(ctx, &ec2.DescribeSnapshotsInput{SnapshotIds: []string{id}})
	if err != nil {
		if awsutil.ErrorCode(err) == "InvalidSnapshot.NotFound" {
			return nil, fmt.Errorf("snapshot %s in %s: %w", id, region, shelvery.ErrNotFound)
		}
		return nil, fmt.Errorf("cannot describe %s: %w", id, err)
	}
	if len(out.Snapshots) == 0 {
		return nil, fmt.Errorf("snapshot %s in %s: %w", id, region, shelvery.ErrNotFound)
	}
	return &out.Snapshots[0], nil
}

// Part of shelvery.Driver interface
func (d *EBS) IsAvailable(ctx context.Context, region, id string) (bool, error) {
	snap, err := d.describe(ctx, region, id)
	if err != nil {
		return false, err
	}

	switch snap.State {
	case ec2types.SnapshotStateCompleted:
		return true, nil
	case ec2types.SnapshotStateError:
		return false, fmt.Errorf("snapshot %s failed: %s", id, aws.ToString(snap.StateMessage))
	default:
		return false, nil
	}
}

// Part of shelvery.Driver interface
func (d *EBS) CopyToRegion(ctx context.Context, r *shelvery.BackupRecord, region string) (string, error) {
	out, err := d.client(region).CopySnapshot(ctx, &ec2.CopySnapshotInput{
		SourceRegion:     aws.String(r.Region),
		SourceSnapshotId: aws.String(r.BackupID),
		Description:      aws.String(r.Name),
	})
	if err != nil {
		return "", fmt.Errorf("cannot copy %s to %s: %w", r.BackupID, region, err)
	}
	return aws.ToString(out.SnapshotId), nil
}

// Part of shelvery.Driver interface
func (d *EBS) ShareWithAccount(ctx context.Context, region, id, account string) error {
	_, err := d.client(region).ModifySnapshotAttribute(ctx, &ec2.ModifySnapshotAttributeInput{
		SnapshotId:    aws.String(id),
		Attribute:     ec2types.SnapshotAttributeNameCreateVolumePermission,
		OperationType: ec2types.OperationTypeAdd,
		UserIds:       []string{account},
	})
	if err != nil {
		if awsutil.ErrorCode(err) == "IncorrectState" {
			return fmt.Errorf("snapshot %s: %w", id, shelvery.ErrNotShareable)
		}
		return fmt.Errorf("cannot share %s with %s: %w", id, account, err)
	}
	return nil
}

// Part of shelvery.Driver interface
func (d *EBS) CopyShared(ctx context.Context, sourceAccount string, r *shelvery.BackupRecord) (string, error) {
	region := r.Region
	if region == "" {
		region = d.region
	}

	out, err := d.client(region).CopySnapshot(ctx, &ec2.CopySnapshotInput{
		SourceRegion:     aws.String(region),
		SourceSnapshotId: aws.String(r.BackupID),
		Description:      aws.String(fmt.Sprintf("%s (shared by %s)", r.Name, sourceAccount)),
	})
	if err != nil {
		if awsutil.ErrorCode(err) == "InvalidSnapshot.NotFound" {
			return "", fmt.Errorf("snapshot %s of %s: %w", r.BackupID, sourceAccount, shelvery.ErrNotFound)
		}
		return "", fmt.Errorf("cannot copy %s of %s: %w", r.BackupID, sourceAccount, err)
	}
	return aws.ToString(out.SnapshotId), nil
}

// Part of shelvery.Driver interface
func (d *EBS) GetBackup(ctx context.Context, region, id string) (*shelvery.BackupRecord, error) {
	snap, err := d.describe(ctx, region, id)
	if err != nil {
		return nil, err
	}

	r, err := shelvery.RecordFromTags(d.tagPrefix, id, fromTags(snap.Tags))
	if err != nil {
		return nil, err
	}
	if r.Region == "" {
		r.Region = region
	}
	return r, nil
}

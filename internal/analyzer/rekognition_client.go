package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

// rekognitionAPI is the subset of the Rekognition client used here.
type rekognitionAPI interface {
	DetectModerationLabels(ctx context.Context, params *rekognition.DetectModerationLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectModerationLabelsOutput, error)
	StartContentModeration(ctx context.Context, params *rekognition.StartContentModerationInput, optFns ...func(*rekognition.Options)) (*rekognition.StartContentModerationOutput, error)
	GetContentModeration(ctx context.Context, params *rekognition.GetContentModerationInput, optFns ...func(*rekognition.Options)) (*rekognition.GetContentModerationOutput, error)
}

type RekognitionClient struct {
	api    rekognitionAPI
	config *Config
	logger *slog.Logger
}

func NewRekognitionClient(awsCfg aws.Config, config *Config, logger *slog.Logger, optFns ...func(*rekognition.Options)) *RekognitionClient {
	return newRekognitionClient(rekognition.NewFromConfig(awsCfg, optFns...), config, logger)
}

func newRekognitionClient(api rekognitionAPI, config *Config, logger *slog.Logger) *RekognitionClient {
	if config == nil {
		config = NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RekognitionClient{
		api:    api,
		config: config,
		logger: logger.With("component", "rekognition"),
	}
}

func (c *RekognitionClient) s3Object(objectKey string) *types.S3Object {
	return &types.S3Object{
		Bucket: aws.String(c.config.Bucket),
		Name:   aws.String(objectKey),
	}
}

func (c *RekognitionClient) DetectSync(ctx context.Context, objectKey string) ([]Finding, error) {
	input := &rekognition.DetectModerationLabelsInput{
		Image: &types.Image{S3Object: c.s3Object(objectKey)},
	}
	if c.config.MinConfidence > 0 {
		input.MinConfidence = aws.Float32(float32(c.config.MinConfidence))
	}

	out, err := c.api.DetectModerationLabels(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to detect moderation labels for %s: %w", objectKey, classifyError(err))
	}

	findings := make([]Finding, 0, len(out.ModerationLabels))
	for _, label := range out.ModerationLabels {
		findings = append(findings, imageFinding(label))
	}
	c.logger.Debug("image labels detected", "object", objectKey, "count", len(findings))
	return findings, nil
}

func (c *RekognitionClient) StartAsync(ctx context.Context, objectKey string) (string, error) {
	input := &rekognition.StartContentModerationInput{
		Video: &types.Video{S3Object: c.s3Object(objectKey)},
		// Resubmitting the same object within Rekognition's idempotency
		// window returns the existing job instead of starting another one.
		ClientRequestToken: aws.String(requestToken(c.config.Bucket, objectKey)),
	}
	if c.config.MinConfidence > 0 {
		input.MinConfidence = aws.Float32(float32(c.config.MinConfidence))
	}

	out, err := c.api.StartContentModeration(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to start content moderation for %s: %w", objectKey, classifyError(err))
	}
	jobID := aws.ToString(out.JobId)
	if jobID == "" {
		return "", fmt.Errorf("no job id returned for %s: %w", objectKey, ErrUnavailable)
	}
	c.logger.Info("video moderation job started", "object", objectKey, "job_id", jobID)
	return jobID, nil
}

// PollAsync reads the job state and, once it succeeded, every result page
// sorted by timestamp.
func (c *RekognitionClient) PollAsync(ctx context.Context, jobID string) (*PollResult, error) {
	input := &rekognition.GetContentModerationInput{
		JobId:  aws.String(jobID),
		SortBy: types.ContentModerationSortByTimestamp,
	}
	if c.config.PageSize > 0 {
		input.MaxResults = aws.Int32(c.config.PageSize)
	}

	result := &PollResult{}
	for {
		out, err := c.api.GetContentModeration(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to get content moderation job %s: %w", jobID, classifyError(err))
		}

		result.Status = JobStatus(out.JobStatus)
		result.Message = aws.ToString(out.StatusMessage)
		if result.Status != JobSucceeded {
			result.Findings = nil
			return result, nil
		}

		for _, detection := range out.ModerationLabels {
			result.Findings = append(result.Findings, videoFinding(detection))
		}

		if aws.ToString(out.NextToken) == "" {
			break
		}
		input.NextToken = out.NextToken
	}

	if result.Findings == nil {
		result.Findings = []Finding{}
	}
	return result, nil
}

func imageFinding(label types.ModerationLabel) Finding {
	return Finding{
		Label:       aws.ToString(label.Name),
		ParentLabel: aws.ToString(label.ParentName),
		Confidence:  float64(aws.ToFloat32(label.Confidence)),
	}
}

func videoFinding(detection types.ContentModerationDetection) Finding {
	f := Finding{OffsetMillis: detection.Timestamp}
	if detection.ModerationLabel != nil {
		l := imageFinding(*detection.ModerationLabel)
		f.Label, f.ParentLabel, f.Confidence = l.Label, l.ParentLabel, l.Confidence
	}
	return f
}

func requestToken(bucket, objectKey string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("s3://"+bucket+"/"+objectKey)).String()
}

// classifyError maps Rekognition faults onto ErrInvalidObject or
// ErrUnavailable, keeping the original error in the chain.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var (
		invalidS3     *types.InvalidS3ObjectException
		invalidFormat *types.InvalidImageFormatException
		invalidParam  *types.InvalidParameterException
		imageTooLarge *types.ImageTooLargeException
		videoTooLarge *types.VideoTooLargeException
		notFound      *types.ResourceNotFoundException
	)
	switch {
	case errors.As(err, &invalidS3),
		errors.As(err, &invalidFormat),
		errors.As(err, &invalidParam),
		errors.As(err, &imageTooLarge),
		errors.As(err, &videoTooLarge),
		errors.As(err, &notFound):
		return errors.Join(ErrInvalidObject, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultClient {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException", "ThrottlingException", "ProvisionedThroughputExceededException", "LimitExceededException":
		default:
			return errors.Join(ErrInvalidObject, err)
		}
	}
	return errors.Join(ErrUnavailable, err)
}

package config

const (
	defaultStateDir    = "~/.local/share/strato"
	defaultLogDir      = "~/.local/share/strato/logs"
	defaultMetricsBind = "127.0.0.1:9723"

	defaultProviderName = "local"
	defaultRegion       = "us-east-1"
	defaultBucket       = "strato-payloads"
	defaultLogGroup     = "/strato/batch"

	defaultInlineLimitBytes = 16 * 1024
	defaultPresignTTLHours  = 24 * 7

	defaultVolumeCreateTimeout  = 120
	defaultVolumeAttachDeadline = 60
	defaultVolumeDetachDeadline = 30
	defaultVolumeAttachRetries  = 3
	defaultVolumePollInterval   = 2
	defaultVolumePollMaxDelay   = 16

	defaultBatchQueue        = "strato-batch"
	defaultBatchJobRole      = "strato-batch-worker"
	defaultBatchImage        = "ubuntu"
	defaultBatchVCPUs        = 1
	defaultBatchMemoryMB     = 1024
	defaultBatchRetries      = 1
	defaultBatchPollInterval = 2
	defaultBatchLookupTries  = 5

	defaultDeployPollInterval   = 30
	defaultDeployCommandTimeout = 600

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:    defaultStateDir,
			LogDir:      defaultLogDir,
			MetricsBind: defaultMetricsBind,
		},
		Provider: Provider{
			Name:     defaultProviderName,
			Region:   defaultRegion,
			Bucket:   defaultBucket,
			LogGroup: defaultLogGroup,
		},
		Stager: Stager{
			InlineLimitBytes: defaultInlineLimitBytes,
			PresignTTLHours:  defaultPresignTTLHours,
		},
		Volume: Volume{
			CreateTimeoutSeconds:  defaultVolumeCreateTimeout,
			AttachDeadlineSeconds: defaultVolumeAttachDeadline,
			DetachDeadlineSeconds: defaultVolumeDetachDeadline,
			AttachRetries:         defaultVolumeAttachRetries,
			PollIntervalSeconds:   defaultVolumePollInterval,
			PollMaxDelaySeconds:   defaultVolumePollMaxDelay,
		},
		Batch: Batch{
			Queue:               defaultBatchQueue,
			JobRole:             defaultBatchJobRole,
			DefaultImage:        defaultBatchImage,
			DefaultVCPUs:        defaultBatchVCPUs,
			DefaultMemoryMB:     defaultBatchMemoryMB,
			RetryAttempts:       defaultBatchRetries,
			PollIntervalSeconds: defaultBatchPollInterval,
			LookupRetries:       defaultBatchLookupTries,
		},
		Deploy: Deploy{
			PollIntervalSeconds:   defaultDeployPollInterval,
			CommandTimeoutSeconds: defaultDeployCommandTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			Deploys:        true,
			Jobs:           true,
			Volumes:        true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

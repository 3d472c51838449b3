package orchestrator

import (
	"errors"

	"github.com/Akshay-Anand-Code/chart-analyzer/internal/domain"
)

const PlaceholderText = "🔄 Analyzing your chart..."

const WelcomeText = "🤖 Welcome to CHART ANALYZER Chart Analysis Bot!\n\n" +
	"Send me a cryptocurrency chart image and I will analyze it for you.\n\n" +
	"Commands:\n" +
	"/start - Show this welcome message\n" +
	"/help - Show help information"

const HelpText = "📊 How to use CHART ANALYZER Bot:\n\n" +
	"1. Simply send a cryptocurrency chart image\n" +
	"2. Wait for the analysis (usually takes 10-15 seconds)\n" +
	"3. Receive detailed analysis including:\n" +
	"   - Price Trends\n" +
	"   - Support/Resistance\n" +
	"   - Volume Analysis\n" +
	"   - Technical Indicators\n" +
	"   - Trading Setup\n" +
	"   - Risk Assessment\n\n" +
	"Note: Images should be clear and show the chart properly"

// User-facing failure messages. Exactly one is sent per failed run.
const (
	MsgCouldNotProcess = "❌ Could not process the image. Please try sending a different image."
	MsgNetworkTimeout  = "❌ Network timeout. Please try sending the image again."
	MsgDownloadFailed  = "❌ Failed to download your image. Please try again."
	MsgAnalysisFailed  = "❌ Sorry, there was an error analyzing your image."
)

// UserMessage maps a pipeline error to the single message shown to the user.
// Raw error text is never included.
func UserMessage(err error) string {
	switch domain.KindOf(err) {
	case domain.KindResolution, domain.KindInvalidImage:
		return MsgCouldNotProcess
	case domain.KindDownload:
		var dlErr *domain.DownloadError
		if errors.As(err, &dlErr) && dlErr.Timeout {
			return MsgNetworkTimeout
		}
		return MsgDownloadFailed
	default:
		return MsgAnalysisFailed
	}
}

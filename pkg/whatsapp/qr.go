package whatsapp

import (
	"context"
	"encoding/base64"
	"errors"

	qrCode "github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
)

// generateQR drains the pairing QR channel until it yields a code, encodes
// it as a PNG data payload, and returns the code's validity window in
// seconds.
func generateQR(ctx context.Context, qrChan <-chan whatsmeow.QRChannelItem) (string, int, error) {
	for {
		select {
		case <-ctx.Done():
			return "", 0, ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return "", 0, errors.New("whatsapp qr channel closed before delivering a code")
			}
			switch {
			case evt.Event == "code":
				qrPNG, err := qrCode.Encode(evt.Code, qrCode.Medium, 256)
				if err != nil {
					return "", 0, err
				}
				timeout := int(evt.Timeout.Seconds())
				return "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrPNG), timeout, nil
			case evt.Event == whatsmeow.QRChannelSuccess.Event:
				return "", 0, ErrQRAlreadyPaired
			case evt.Event == whatsmeow.QRChannelTimeout.Event:
				return "", 0, errors.New("whatsapp qr channel timed out")
			case evt.Event == whatsmeow.QRChannelErrUnexpectedEvent.Event:
				return "", 0, errors.New("whatsapp qr channel entered an unexpected state")
			case evt.Event == whatsmeow.QRChannelClientOutdated.Event:
				return "", 0, errors.New("whatsapp client version is outdated for QR pairing")
			case evt.Event == whatsmeow.QRChannelScannedWithoutMultidevice.Event:
				return "", 0, errors.New("whatsapp qr scanned without multi-device enabled")
			case evt.Event == "error":
				if evt.Error != nil {
					return "", 0, evt.Error
				}
				return "", 0, errors.New("whatsapp qr channel reported an unspecified error")
			}
		}
	}
}

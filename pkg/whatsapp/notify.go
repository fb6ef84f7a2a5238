package whatsapp

import (
	"bytes"
	"context"
	"errors"

	"github.com/sunshineplan/imgconv"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

var ErrClientNotPaired = errors.New("WhatsApp Client is not Paired")

// ownJID returns the session's own user JID, stripped of the device part so
// self-notifications land in the session owner's own chat.
func ownJID(client *whatsmeow.Client) (types.JID, error) {
	if client == nil || client.Store == nil || client.Store.ID == nil {
		return types.EmptyJID, ErrClientNotPaired
	}
	return client.Store.ID.ToNonAD(), nil
}

func sendText(ctx context.Context, client *whatsmeow.Client, to types.JID, message string) (string, error) {
	msgExtra := whatsmeow.SendRequestExtra{ID: client.GenerateMessageID()}
	msgContent := &waE2E.Message{
		Conversation: proto.String(message),
	}
	if _, err := client.SendMessage(ctx, to, msgContent, msgExtra); err != nil {
		return "", err
	}
	return msgExtra.ID, nil
}

// sendSelfText delivers a message into the session owner's own chat. The
// OTP flow and lifecycle notifications all go through here.
func sendSelfText(ctx context.Context, client *whatsmeow.Client, message string) (string, error) {
	self, err := ownJID(client)
	if err != nil {
		return "", err
	}
	return sendText(ctx, client, self, message)
}

// sendImage uploads an image with a JPEG link thumbnail and sends it, the
// welcome banner on first pairing being the only current caller.
func sendImage(ctx context.Context, client *whatsmeow.Client, to types.JID, imageBytes []byte, imageType string, caption string) (string, error) {
	imgResizeDecode, err := imgconv.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return "", errors.New("Error While Decoding Resize Image Stream")
	}
	imgResizeEncode := new(bytes.Buffer)
	err = imgconv.Write(imgResizeEncode,
		imgconv.Resize(imgResizeDecode, &imgconv.ResizeOption{Width: 1024}),
		&imgconv.FormatOption{})
	if err != nil {
		return "", errors.New("Error While Encoding Resize Image Stream")
	}
	imageBytes = imgResizeEncode.Bytes()

	imgThumbDecode, err := imgconv.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return "", errors.New("Error While Decoding Thumbnail Image Stream")
	}
	imgThumbEncode := new(bytes.Buffer)
	err = imgconv.Write(imgThumbEncode,
		imgconv.Resize(imgThumbDecode, &imgconv.ResizeOption{Width: 72}),
		&imgconv.FormatOption{Format: imgconv.JPEG})
	if err != nil {
		return "", errors.New("Error While Encoding Thumbnail Image Stream")
	}

	imageUploaded, err := client.Upload(ctx, imageBytes, whatsmeow.MediaImage)
	if err != nil {
		return "", errors.New("Error While Uploading Media to WhatsApp Server")
	}
	imageThumbUploaded, err := client.Upload(ctx, imgThumbEncode.Bytes(), whatsmeow.MediaLinkThumbnail)
	if err != nil {
		return "", errors.New("Error while Uploading Image Thumbnail to WhatsApp Server")
	}

	msgExtra := whatsmeow.SendRequestExtra{ID: client.GenerateMessageID()}
	msgContent := &waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{
			URL:                 proto.String(imageUploaded.URL),
			DirectPath:          proto.String(imageUploaded.DirectPath),
			Mimetype:            proto.String(imageType),
			Caption:             proto.String(caption),
			FileLength:          proto.Uint64(imageUploaded.FileLength),
			FileSHA256:          imageUploaded.FileSHA256,
			FileEncSHA256:       imageUploaded.FileEncSHA256,
			MediaKey:            imageUploaded.MediaKey,
			JPEGThumbnail:       imgThumbEncode.Bytes(),
			ThumbnailDirectPath: &imageThumbUploaded.DirectPath,
			ThumbnailSHA256:     imageThumbUploaded.FileSHA256,
			ThumbnailEncSHA256:  imageThumbUploaded.FileEncSHA256,
		},
	}
	if _, err := client.SendMessage(ctx, to, msgContent, msgExtra); err != nil {
		return "", err
	}
	return msgExtra.ID, nil
}

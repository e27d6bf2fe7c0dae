package analyzer

import (
	"fmt"
	"strings"

	"fichua-bot/internal/models"
)

// Confidence tags the model must choose from
const (
	TagOrganic     = "🟢 Organic"
	TagUnclear     = "🟡 Unclear"
	TagCoordinated = "🔴 Coordinated"
)

const systemTemplate = `You are FichuaBot, a savvy bot that detects suspicious Twitter behavior.
Judge whether an account posts like an organic person or like part of a coordinated campaign.
Reply with exactly one line that starts with one of these tags:
%s - ordinary personal posting
%s - mixed or not enough signal
%s - repetitive, scripted or campaign-like posting
Follow the tag with a short reason. The whole reply must be under %d characters.
No hashtags, no threads, no line breaks.`

// SystemInstruction returns the fixed persona and formatting rules
func SystemInstruction(maxLength int) string {
	return fmt.Sprintf(systemTemplate, TagOrganic, TagUnclear, TagCoordinated, maxLength)
}

// BuildUserPrompt embeds the target, its metadata and the numbered posts
func BuildUserPrompt(username string, posts []models.Post, md models.Metadata) string {
	var sb strings.Builder
	sb.WriteString("Analyze this user:\n\n")
	fmt.Fprintf(&sb, "Username: @%s\n", username)
	fmt.Fprintf(&sb, "Joined: %s\n", md.Joined)
	fmt.Fprintf(&sb, "Followers: %d\n\n", md.Followers)
	fmt.Fprintf(&sb, "Here are their last %d tweets:\n", len(posts))
	for i, p := range posts {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, p.Body)
	}
	sb.WriteString("\nGive your one-line verdict.")
	return sb.String()
}

func correction(gotLength, maxLength int) string {
	return fmt.Sprintf("That reply is %d characters, which is too long. Rephrase it more concisely in under %d characters and keep the tag.",
		gotLength, maxLength)
}
